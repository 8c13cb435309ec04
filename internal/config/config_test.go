package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dragcheck/internal/challenge"
	"dragcheck/internal/forensics"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("DRAGCHECK_DATA_DIR", "/var/lib/dragcheck-test")

	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Storage.Path != "/var/lib/dragcheck-test/runs.db" {
		t.Errorf("storage path should live under the data dir: %s", cfg.Storage.Path)
	}
	if cfg.Watch.Dir != "/var/lib/dragcheck-test/recordings" {
		t.Errorf("watch dir should live under the data dir: %s", cfg.Watch.Dir)
	}
	if cfg.Gate.Thresholds() != forensics.DefaultThresholds() {
		t.Errorf("default gate should match the default thresholds: %+v", cfg.Gate)
	}
}

func TestDefaultChallengeBuild(t *testing.T) {
	got := DefaultConfig().Challenge.Build()
	want := challenge.DefaultConfig()

	if got.Layout != want.Layout {
		t.Errorf("layout mismatch:\n got %+v\nwant %+v", got.Layout, want.Layout)
	}
	if got.DecoyCount != want.DecoyCount {
		t.Errorf("expected %d decoys, got %d", want.DecoyCount, got.DecoyCount)
	}
	if got.Cooldown != time.Second {
		t.Errorf("expected 1s cooldown, got %v", got.Cooldown)
	}
	if got.Catalog.Target.ID != "robot" {
		t.Errorf("expected the robot target, got %q", got.Catalog.Target.ID)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "dragcheck") {
		t.Errorf("config path should contain dragcheck: %s", path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.Challenge.DecoyCount != 5 {
		t.Errorf("expected 5 decoys, got %d", cfg.Challenge.DecoyCount)
	}
}

func TestLoadPartialTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")

	content := `
# only some values, the rest come from defaults
[gate]
min_search_time_sec = 0.35

[challenge]
decoy_count = 3 # inline comment

[challenge.viewport]
w = 1024
h = 768
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Gate.MinSearchTimeSec != 0.35 {
		t.Errorf("expected min search time 0.35, got %v", cfg.Gate.MinSearchTimeSec)
	}
	if cfg.Gate.MinSamples != 5 {
		t.Errorf("expected default min samples, got %d", cfg.Gate.MinSamples)
	}
	if cfg.Challenge.DecoyCount != 3 {
		t.Errorf("expected 3 decoys, got %d", cfg.Challenge.DecoyCount)
	}
	if cfg.Challenge.Viewport.W != 1024 || cfg.Challenge.Viewport.H != 768 {
		t.Errorf("unexpected viewport %+v", cfg.Challenge.Viewport)
	}
	if cfg.Challenge.CooldownMs != 1000 {
		t.Errorf("expected default cooldown, got %d", cfg.Challenge.CooldownMs)
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	jsonBody := `{"version":1,"logging":{"level":"debug","format":"json","output":"stdout","max_size_mb":10},"storage":{"type":"memory","max_connections":1}}`
	if err := os.WriteFile(jsonPath, []byte(jsonBody), 0600); err != nil {
		t.Fatal(err)
	}

	yamlPath := filepath.Join(dir, "config.yaml")
	yamlBody := "version: 1\nlogging:\n  level: debug\n  format: json\n  output: stdout\n  max_size_mb: 10\nstorage:\n  type: memory\n  max_connections: 1\n"
	if err := os.WriteFile(yamlPath, []byte(yamlBody), 0600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{jsonPath, yamlPath} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", filepath.Base(path), err)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
			t.Errorf("%s: unexpected logging %+v", filepath.Base(path), cfg.Logging)
		}
		if cfg.Storage.Type != "memory" {
			t.Errorf("%s: expected memory storage, got %q", filepath.Base(path), cfg.Storage.Type)
		}
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")

	if err := os.WriteFile(configPath, []byte("this is not valid toml {{{\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRAGCHECK_LOG_LEVEL", "debug")
	t.Setenv("DRAGCHECK_STORAGE_PATH", "/tmp/custom.db")
	t.Setenv("DRAGCHECK_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("DRAGCHECK_MIN_SEARCH_TIME", "0.5")
	t.Setenv("DRAGCHECK_MIN_SAMPLES", "not-a-number")
	t.Setenv("DRAGCHECK_DECOY_COUNT", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "/tmp/custom.db" {
		t.Errorf("expected overridden storage path, got %s", cfg.Storage.Path)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "collector:4318" {
		t.Errorf("expected tracing enabled with endpoint, got %+v", cfg.Tracing)
	}
	if cfg.Gate.MinSearchTimeSec != 0.5 {
		t.Errorf("expected min search time 0.5, got %v", cfg.Gate.MinSearchTimeSec)
	}
	if cfg.Gate.MinSamples != 5 {
		t.Errorf("unparseable override should be ignored, got %d", cfg.Gate.MinSamples)
	}
	if cfg.Challenge.DecoyCount != 7 {
		t.Errorf("expected 7 decoys, got %d", cfg.Challenge.DecoyCount)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 99 }, "version"},
		{"negative decoys", func(c *Config) { c.Challenge.DecoyCount = -1 }, "challenge.decoy_count"},
		{"empty viewport", func(c *Config) { c.Challenge.Viewport.W = 0 }, "challenge.viewport"},
		{"no placement attempts", func(c *Config) { c.Challenge.MaxPlacementAttempts = 0 }, "challenge.max_placement_attempts"},
		{"zero samples", func(c *Config) { c.Gate.MinSamples = 0 }, "gate.min_samples"},
		{"baseline range", func(c *Config) { c.Gate.AccuracyBaseline = 120 }, "gate.accuracy_baseline"},
		{"zero weights", func(c *Config) { c.Gate.TimeWeight, c.Gate.AccuracyWeight = 0, 0 }, "gate.time_weight"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log file", func(c *Config) { c.Logging.Output, c.Logging.FilePath = "file", "" }, "logging.file_path"},
		{"storage type", func(c *Config) { c.Storage.Type = "postgres" }, "storage.type"},
		{"metrics addr", func(c *Config) { c.Metrics.ListenAddr = "nope" }, "metrics.listen_addr"},
		{"tracing endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
		{"glob", func(c *Config) { c.Watch.IncludePatterns = []string{"[bad"} }, "watch.include_patterns[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, f := range verrs.Fields() {
				if f == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected field %s in %v", tt.field, verrs.Fields())
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(tmpDir, "a", "b", "runs.db")
	cfg.Watch.Dir = filepath.Join(tmpDir, "recordings")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(tmpDir, "logs", "dragcheck.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{"a/b", "recordings", "logs"} {
		if _, err := os.Stat(filepath.Join(tmpDir, dir)); os.IsNotExist(err) {
			t.Errorf("%s was not created", dir)
		}
	}
}

func TestSaveAndReload(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)

			cfg := DefaultConfig()
			cfg.Gate.MinSearchTimeSec = 0.25
			cfg.Challenge.DropZone = Rect{X: 10, Y: 20, W: 30, H: 40}
			cfg.Watch.IncludePatterns = []string{"*.jsonl", "*.rec"}

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if got.Gate != cfg.Gate {
				t.Errorf("gate mismatch:\n got %+v\nwant %+v", got.Gate, cfg.Gate)
			}
			if got.Challenge != cfg.Challenge {
				t.Errorf("challenge mismatch:\n got %+v\nwant %+v", got.Challenge, cfg.Challenge)
			}
			if len(got.Watch.IncludePatterns) != 2 {
				t.Errorf("expected 2 patterns, got %v", got.Watch.IncludePatterns)
			}
		})
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.Watch.IncludePatterns[0] = "*.other"
	clone.Gate.MinSamples = 42

	if cfg.Watch.IncludePatterns[0] != "*.jsonl" {
		t.Error("clone shares the include patterns slice")
	}
	if cfg.Gate.MinSamples != 5 {
		t.Error("clone shares the gate section")
	}
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[challenge]\ndecoy_count = 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Challenge.DecoyCount != 4 {
		t.Fatalf("expected 4 decoys, got %d", cfg.Challenge.DecoyCount)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("[challenge]\ndecoy_count = 6\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Challenge.DecoyCount != 6 {
			t.Errorf("expected 6 decoys after reload, got %d", c.Challenge.DecoyCount)
		}
		if loader.Config().Challenge.DecoyCount != 6 {
			t.Error("loader did not swap in the new config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[gate]\nmin_samples = 5\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("[gate]\nmin_samples = 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected a validation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error within 5s")
	}
	if loader.Config().Gate.MinSamples != 5 {
		t.Error("invalid reload replaced the config")
	}
}
