package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dragcheck/internal/config"
	"dragcheck/internal/health"
	"dragcheck/internal/logging"
	"dragcheck/internal/tracing"
	"dragcheck/internal/watcher"
)

const maxHeapBytes = 512 << 20

func cmdWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := configFlag(fs)
	dir := fs.String("dir", "", "Recordings directory (default: watch.dir)")
	addr := fs.String("addr", "", "HTTP listen address for metrics and health (default: metrics.listen_addr)")
	scan := fs.Bool("scan", true, "Score recordings already in the directory")
	fs.Parse(os.Args[2:])

	loader := config.NewLoader(*cfgPath)
	cfg, err := loader.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	if *dir != "" {
		cfg.Watch.Dir = *dir
	}
	if *addr != "" {
		cfg.Metrics.ListenAddr = *addr
		cfg.Metrics.Enabled = true
	}

	a, err := newApp(cfg, appOptions{withStore: true, withAudit: true})
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := runWatch(ctx, a, loader, *scan); err != nil {
		a.logger.Error("watch failed", "error", err)
		if a.audit != nil {
			a.audit.LogError("watch", err)
		}
		a.Close()
		os.Exit(1)
	}
}

func runWatch(ctx context.Context, a *app, loader *config.Loader, scan bool) error {
	cfg := a.config()
	logger := a.logger.WithComponent("watch")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	w, err := watcher.New(watcher.Config{
		Dir:             cfg.Watch.Dir,
		IncludePatterns: cfg.Watch.IncludePatterns,
		Debounce:        cfg.Watch.Debounce(),
		MaxFileSize:     cfg.Watch.MaxFileSize,
		ScanExisting:    scan,
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	// Thresholds apply to the next replay; the watch directory and storage
	// stay as they were at startup.
	loader.OnChange(func(next *config.Config) {
		updated := a.config().Clone()
		updated.Gate = next.Gate
		updated.Challenge = next.Challenge
		a.setConfig(updated)
		logger.Info("configuration reloaded", "path", loader.Path())
		if a.audit != nil {
			a.audit.LogConfigChange(loader.Path())
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	defer loader.Close()

	checker := health.NewChecker()
	checker.RegisterFunc("store", true, health.StoreCheck(a.store))
	checker.RegisterFunc("watcher", true, health.WatcherCheck(w.Alive, 10*cfg.Watch.Debounce()+5*time.Second))
	checker.RegisterFunc("recordings_dir", false, health.DirWritableCheck(w.Dir()))
	checker.RegisterFunc("memory", false, health.MemoryCheck(maxHeapBytes))
	if err := requireHealthy(ctx, checker, "store"); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.Handle("/healthz", checker.LivenessHandler())
		mux.Handle("/readyz", checker.ReadinessHandler())
		mux.Handle("/health", checker.HealthHandler())

		ln, err := net.Listen("tcp", cfg.Metrics.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Metrics.ListenAddr, err)
		}
		srv = &http.Server{
			Handler:           otelhttp.NewHandler(mux, "dragcheck"),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", "error", err)
			}
		}()
		logger.Info("serving metrics and health", "addr", ln.Addr().String())
	}

	if a.audit != nil {
		a.audit.LogStartup(version, map[string]any{"dir": w.Dir(), "log_level": a.logger.Level()})
	}
	checker.SetReady(true)
	logger.Info("watching for recordings", "dir", w.Dir(), "patterns", cfg.Watch.IncludePatterns)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reason := "signal"
loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case ev, ok := <-w.Events():
			if !ok {
				reason = "watcher closed"
				break loop
			}
			handleRecording(ctx, a, logger, ev)

		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			logger.Warn("watcher", "error", err)

		case err := <-loader.Errors():
			logger.Warn("config reload", "error", err)

		case <-hup:
			rotateLogs(a, logger)
		}
	}

	checker.SetReady(false)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		cancel()
	}
	if a.audit != nil {
		a.audit.LogShutdown(reason)
	}
	logger.Info("watch stopped", "reason", reason)
	return nil
}

// requireHealthy runs the named checks once and fails on the first one
// that does not come back healthy.
func requireHealthy(ctx context.Context, c *health.Checker, names ...string) error {
	for _, name := range names {
		res, ok := c.CheckComponent(ctx, name)
		if !ok {
			return fmt.Errorf("health check %s not registered", name)
		}
		if res.Status != health.StatusHealthy {
			if res.Error != "" {
				return fmt.Errorf("%s: %s: %s", name, res.Message, res.Error)
			}
			return fmt.Errorf("%s: %s", name, res.Message)
		}
	}
	return nil
}

// rotateLogs rolls the log file and audit trail over on SIGHUP.
func rotateLogs(a *app, logger *logging.Logger) {
	if files, err := a.logger.Rotate(); err != nil {
		logger.Warn("rotate log", "error", err)
	} else if files != nil {
		logger.Info("log rotated", "files", len(files))
	}
	if a.audit == nil {
		return
	}
	if files, err := a.audit.Rotate(); err != nil {
		logger.Warn("rotate audit log", "error", err)
	} else {
		logger.Info("audit log rotated", "files", len(files))
	}
}

func handleRecording(ctx context.Context, a *app, logger *logging.Logger, ev watcher.Event) {
	res, err := a.replayFile(ctx, ev.Path)
	if err != nil {
		logger.Warn("replay failed", "path", ev.Path, "error", err)
		return
	}

	attrs := []any{
		"path", ev.Path,
		"outcome", res.Run.Outcome,
		"samples", res.Run.Samples,
	}
	if len(res.Run.Reasons) > 0 {
		attrs = append(attrs, "reasons", res.Run.Reasons)
	}
	if res.Duplicate {
		attrs = append(attrs, "duplicate", true)
	}
	logger.Info("recording scored", attrs...)

	if path := a.config().Metrics.TextfilePath; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			logger.Warn("write metrics textfile", "path", path, "error", err)
		}
	}
}
