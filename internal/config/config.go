// Package config handles configuration loading, validation, and management for dragcheck.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"dragcheck/internal/atomicfile"
	"dragcheck/internal/challenge"
	"dragcheck/internal/forensics"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete dragcheck configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Challenge controls how the drag challenge is laid out.
	Challenge ChallengeConfig `toml:"challenge" json:"challenge" yaml:"challenge"`

	// Gate holds the scoring and rejection thresholds.
	Gate GateConfig `toml:"gate" json:"gate" yaml:"gate"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Storage configuration for the run ledger.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Metrics configuration for the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Tracing configuration for OpenTelemetry export.
	Tracing TracingConfig `toml:"tracing" json:"tracing" yaml:"tracing"`

	// Watch configuration for the recordings directory.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// Rect is a rectangle in viewport pixels.
type Rect struct {
	X float64 `toml:"x" json:"x" yaml:"x"`
	Y float64 `toml:"y" json:"y" yaml:"y"`
	W float64 `toml:"w" json:"w" yaml:"w"`
	H float64 `toml:"h" json:"h" yaml:"h"`
}

// ChallengeConfig holds the challenge layout.
type ChallengeConfig struct {
	// DecoyCount is how many decoys are shown next to the target.
	DecoyCount int `toml:"decoy_count" json:"decoy_count" yaml:"decoy_count"`

	// CooldownMs is the delay before a wrong drop re-arms the challenge.
	CooldownMs int `toml:"cooldown_ms" json:"cooldown_ms" yaml:"cooldown_ms"`

	Viewport  Rect `toml:"viewport" json:"viewport" yaml:"viewport"`
	Container Rect `toml:"container" json:"container" yaml:"container"`
	DropZone  Rect `toml:"drop_zone" json:"drop_zone" yaml:"drop_zone"`

	// EdgePadding keeps items away from the viewport edges.
	EdgePadding float64 `toml:"edge_padding" json:"edge_padding" yaml:"edge_padding"`

	// Clearance keeps items away from the container.
	Clearance float64 `toml:"clearance" json:"clearance" yaml:"clearance"`

	// MaxPlacementAttempts bounds rejection sampling per item.
	MaxPlacementAttempts int `toml:"max_placement_attempts" json:"max_placement_attempts" yaml:"max_placement_attempts"`
}

// GateConfig holds the forensic thresholds.
type GateConfig struct {
	MinSearchTimeSec    float64 `toml:"min_search_time_sec" json:"min_search_time_sec" yaml:"min_search_time_sec"`
	MinSamples          int     `toml:"min_samples" json:"min_samples" yaml:"min_samples"`
	VelocityChangeLimit float64 `toml:"velocity_change_limit" json:"velocity_change_limit" yaml:"velocity_change_limit"`
	AccuracyBaseline    float64 `toml:"accuracy_baseline" json:"accuracy_baseline" yaml:"accuracy_baseline"`
	StraightnessWeight  float64 `toml:"straightness_weight" json:"straightness_weight" yaml:"straightness_weight"`
	VelocityWeight      float64 `toml:"velocity_weight" json:"velocity_weight" yaml:"velocity_weight"`
	FastSearchLimitSec  float64 `toml:"fast_search_limit_sec" json:"fast_search_limit_sec" yaml:"fast_search_limit_sec"`
	SlowSearchPenalty   float64 `toml:"slow_search_penalty" json:"slow_search_penalty" yaml:"slow_search_penalty"`
	TimeWeight          float64 `toml:"time_weight" json:"time_weight" yaml:"time_weight"`
	AccuracyWeight      float64 `toml:"accuracy_weight" json:"accuracy_weight" yaml:"accuracy_weight"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// AddSource adds file:line to every record.
	AddSource bool `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend type: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is where "dragcheck watch" serves /metrics and health.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// TextfilePath, when set, receives a node_exporter textfile after
	// every replay.
	TextfilePath string `toml:"textfile_path" json:"textfile_path" yaml:"textfile_path"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	Insecure    bool    `toml:"insecure" json:"insecure" yaml:"insecure"`
	ServiceName string  `toml:"service_name" json:"service_name" yaml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio" yaml:"sample_ratio"`
}

// WatchConfig holds recordings directory configuration.
type WatchConfig struct {
	// Dir is the directory scanned for new recordings.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// IncludePatterns are glob patterns for files to replay.
	IncludePatterns []string `toml:"include_patterns" json:"include_patterns" yaml:"include_patterns"`

	// DebounceMs is how long a file must be quiet before it is replayed.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// MaxFileSize is the largest recording replayed, in bytes.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	layout := challenge.DefaultLayout()
	th := forensics.DefaultThresholds()

	return &Config{
		Version: Version,
		Challenge: ChallengeConfig{
			DecoyCount:           5,
			CooldownMs:           1000,
			Viewport:             fromRect(layout.Viewport),
			Container:            fromRect(layout.Container),
			DropZone:             fromRect(layout.DropZone),
			EdgePadding:          layout.EdgePadding,
			Clearance:            layout.Clearance,
			MaxPlacementAttempts: layout.MaxAttempts,
		},
		Gate: GateConfig{
			MinSearchTimeSec:    th.MinSearchTime,
			MinSamples:          th.MinSamples,
			VelocityChangeLimit: th.VelocityChangeLimit,
			AccuracyBaseline:    th.AccuracyBaseline,
			StraightnessWeight:  th.StraightnessWeight,
			VelocityWeight:      th.VelocityWeight,
			FastSearchLimitSec:  th.FastSearchLimit,
			SlowSearchPenalty:   th.SlowSearchPenalty,
			TimeWeight:          th.TimeWeight,
			AccuracyWeight:      th.AccuracyWeight,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "dragcheck.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Storage: StorageConfig{
			Type:           "sqlite",
			Path:           filepath.Join(dir, "runs.db"),
			MaxConnections: 1,
			BusyTimeoutMs:  5000,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "dragcheck",
			SampleRatio: 1,
		},
		Watch: WatchConfig{
			Dir:             filepath.Join(dir, "recordings"),
			IncludePatterns: []string{"*.jsonl"},
			DebounceMs:      500,
			MaxFileSize:     16 * 1024 * 1024,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Watch.Dir}
	if c.Storage.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Metrics.TextfilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Metrics.TextfilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DataDir returns the base dragcheck directory.
// Uses platform-specific paths or the DRAGCHECK_DATA_DIR override.
func DataDir() string {
	if envDir := os.Getenv("DRAGCHECK_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with DRAGCHECK_ and use underscores.
// Numeric values that do not parse are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Storage overrides
	if v := os.Getenv("DRAGCHECK_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("DRAGCHECK_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	// Logging overrides
	if v := os.Getenv("DRAGCHECK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRAGCHECK_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DRAGCHECK_LOG_PATH"); v != "" {
		c.Logging.Output = "file"
		c.Logging.FilePath = v
	}

	// Metrics and tracing
	if v := os.Getenv("DRAGCHECK_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
	if v := os.Getenv("DRAGCHECK_METRICS_TEXTFILE"); v != "" {
		c.Metrics.TextfilePath = v
	}
	if v := os.Getenv("DRAGCHECK_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Endpoint = v
	}

	// Watch
	if v := os.Getenv("DRAGCHECK_WATCH_DIR"); v != "" {
		c.Watch.Dir = v
	}

	// Gate
	if v, ok := envFloat("DRAGCHECK_MIN_SEARCH_TIME"); ok {
		c.Gate.MinSearchTimeSec = v
	}
	if v, ok := envInt("DRAGCHECK_MIN_SAMPLES"); ok {
		c.Gate.MinSamples = v
	}

	// Challenge
	if v, ok := envInt("DRAGCHECK_DECOY_COUNT"); ok {
		c.Challenge.DecoyCount = v
	}
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:   c.Version,
		Challenge: c.Challenge,
		Gate:      c.Gate,
		Logging:   c.Logging,
		Storage:   c.Storage,
		Metrics:   c.Metrics,
		Tracing:   c.Tracing,
		Watch:     c.Watch,
	}
	clone.Watch.IncludePatterns = append([]string{}, c.Watch.IncludePatterns...)
	return clone
}

// Thresholds converts the gate section into scoring constants.
func (g GateConfig) Thresholds() forensics.Thresholds {
	return forensics.Thresholds{
		MinSearchTime:       g.MinSearchTimeSec,
		MinSamples:          g.MinSamples,
		VelocityChangeLimit: g.VelocityChangeLimit,
		AccuracyBaseline:    g.AccuracyBaseline,
		StraightnessWeight:  g.StraightnessWeight,
		VelocityWeight:      g.VelocityWeight,
		FastSearchLimit:     g.FastSearchLimitSec,
		SlowSearchPenalty:   g.SlowSearchPenalty,
		TimeWeight:          g.TimeWeight,
		AccuracyWeight:      g.AccuracyWeight,
	}
}

// Build converts the challenge section into a controller configuration
// using the built-in catalog.
func (cc ChallengeConfig) Build() challenge.Config {
	return challenge.Config{
		Catalog: challenge.DefaultCatalog(),
		Layout: challenge.Layout{
			Viewport:    cc.Viewport.toRect(),
			Container:   cc.Container.toRect(),
			DropZone:    cc.DropZone.toRect(),
			EdgePadding: cc.EdgePadding,
			Clearance:   cc.Clearance,
			MaxAttempts: cc.MaxPlacementAttempts,
		},
		DecoyCount: cc.DecoyCount,
		Cooldown:   time.Duration(cc.CooldownMs) * time.Millisecond,
	}
}

// Debounce returns the watch debounce as a duration.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

func (r Rect) toRect() challenge.Rect {
	return challenge.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}

func fromRect(r challenge.Rect) Rect {
	return Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}

// SaveConfig writes cfg to path, choosing the format by extension.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := atomicfile.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// encodeTOML renders cfg as TOML.
func encodeTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# dragcheck configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
