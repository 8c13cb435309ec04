package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dragcheck/internal/config"
	"dragcheck/internal/engine"
	"dragcheck/internal/events"
	"dragcheck/internal/forensics"
	"dragcheck/internal/logging"
	"dragcheck/internal/metrics"
	"dragcheck/internal/recording"
	"dragcheck/internal/store"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

// app holds what every subcommand shares: the effective configuration,
// the logger, and optionally the run ledger and audit trail.
type app struct {
	mu      sync.RWMutex
	cfg     *config.Config
	logger  *logging.Logger
	store   *store.Store
	audit   *logging.AuditLogger
	metrics *metrics.Collector
}

type appOptions struct {
	withStore bool
	withAudit bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	logger, err := logging.New(loggingConfig(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logging.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc, err := metrics.New(reg)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, metrics: mc}

	if opts.withStore {
		if err := cfg.EnsureDirectories(); err != nil {
			a.Close()
			return nil, err
		}
		path := cfg.Storage.Path
		if cfg.Storage.Type == "memory" {
			path = store.MemoryPath
		}
		st, err := store.OpenWithOptions(path, store.Options{
			BusyTimeoutMs:  cfg.Storage.BusyTimeoutMs,
			MaxConnections: cfg.Storage.MaxConnections,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = st
	}

	if opts.withAudit && cfg.Storage.Type == "sqlite" {
		audit, err := logging.NewAuditLogger(logging.RotatorConfig{
			FilePath:   filepath.Join(filepath.Dir(cfg.Storage.Path), "audit.log"),
			MaxSize:    int64(cfg.Logging.MaxSizeMB),
			MaxAge:     cfg.Logging.MaxAgeDays,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		}, "dragcheck")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.audit = audit
	}

	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	if a.audit != nil {
		a.audit.Close()
	}
	a.logger.Close()
}

func (a *app) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *app) setConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func loggingConfig(lc config.LoggingConfig) *logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(lc.Level); err == nil {
		cfg.Level = level
	}
	if format, err := logging.ParseFormat(lc.Format); err == nil {
		cfg.Format = format
	}
	if lc.Output != "" {
		cfg.Output = lc.Output
	}
	cfg.FilePath = lc.FilePath
	if lc.MaxSizeMB > 0 {
		cfg.MaxSize = int64(lc.MaxSizeMB)
	}
	cfg.MaxAge = lc.MaxAgeDays
	cfg.MaxBackups = lc.MaxBackups
	cfg.Compress = lc.Compress
	cfg.AddSource = lc.AddSource
	return cfg
}

// newEngine builds an engine from the current configuration with the
// metrics collector and audit trail attached.
func (a *app) newEngine(pageLoad int64, rng *rand.Rand) (*engine.Engine, error) {
	return a.newEngineFor(nil, pageLoad, rng)
}

// newEngineFor is newEngine with the layout resized to the viewport a
// recording was captured at, when it names one.
func (a *app) newEngineFor(vp *recording.Viewport, pageLoad int64, rng *rand.Rand) (*engine.Engine, error) {
	cfg := a.config()
	chal := cfg.Challenge.Build()
	if vp != nil {
		chal.Layout = chal.Layout.Resize(vp.W, vp.H)
	}
	observers := []engine.Observer{a.metrics}
	if a.audit != nil {
		observers = append(observers, &auditObserver{audit: a.audit, logger: a.logger})
	}
	return engine.New(engine.Options{
		Challenge:    chal,
		Thresholds:   cfg.Gate.Thresholds(),
		PageLoadTime: pageLoad,
		Rand:         rng,
		Logger:       a.logger.Logger,
		Observers:    observers,
	})
}

// replayResult is what a finished replay leaves behind.
type replayResult struct {
	Summary   engine.Summary
	Run       *store.Run
	Samples   []telemetry.PointSample
	Container forensics.Box
	Duplicate bool // digest already in the ledger; not recorded again
}

// replay runs src through a fresh engine and, when record is set and a
// store is open, appends the outcome to the ledger.
func (a *app) replay(ctx context.Context, source, digest string, h recording.Header, src events.Source, record bool) (*replayResult, error) {
	e, err := a.newEngineFor(h.Viewport, h.PageLoadedAt, nil)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, e, source, digest, src, record)
}

func (a *app) run(ctx context.Context, e *engine.Engine, source, digest string, src events.Source, record bool) (*replayResult, error) {
	started := time.Now()
	sum, runErr := e.Run(ctx, src)
	a.metrics.ReplayFinished(runErr, time.Now())
	if a.audit != nil {
		a.audit.LogReplay(source, digest, runErr)
	}
	if runErr != nil {
		return nil, runErr
	}

	container := e.Controller().Layout().Container
	res := &replayResult{
		Summary:   sum,
		Run:       runFromSummary(source, digest, started, sum),
		Samples:   e.Attempt().Snapshot().Samples,
		Container: forensics.Box{X: container.X, Y: container.Y, W: container.W, H: container.H},
	}

	if record && a.store != nil {
		if err := a.store.InsertRun(res.Run); err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
	}
	return res, nil
}

// replayFile validates and replays one recording file. A recording whose
// digest is already in the ledger is replayed but not recorded twice.
func (a *app) replayFile(ctx context.Context, path string) (*replayResult, error) {
	digest, err := recording.Digest(path)
	if err != nil {
		return nil, err
	}
	duplicate := false
	if a.store != nil {
		if duplicate, err = a.store.HasDigest(digest); err != nil {
			return nil, err
		}
	}
	f, err := recording.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := a.replay(ctx, path, digest, f.Header(), f, !duplicate)
	if res != nil {
		res.Duplicate = duplicate
	}
	return res, err
}

// runFromSummary flattens an engine summary into a ledger row. A replay
// that never asked for verification is stored as "unverified".
func runFromSummary(source, digest string, started time.Time, sum engine.Summary) *store.Run {
	run := &store.Run{
		Source:     source,
		Digest:     digest,
		StartedAt:  started,
		Outcome:    "unverified",
		SearchTime: math.NaN(),
		Samples:    sum.Samples,
		Discarded:  sum.Discarded,
		Resets:     sum.Resets,
	}
	if sum.Result == nil {
		return run
	}

	res := sum.Result
	run.Outcome = string(res.Outcome)
	if res.Outcome == verify.OutcomeIgnored {
		return run
	}
	run.Accuracy = res.Metrics.Accuracy
	run.SearchTime = res.Metrics.SearchTime
	run.HumanLikelihood = res.Metrics.HumanLikelihood
	run.DragAttempts = res.Metrics.DragAttempts
	for _, r := range res.Verdict.Reasons {
		run.Reasons = append(run.Reasons, string(r))
	}
	return run
}
