// Command browserpilotd runs the browser session orchestrator: the session
// pool, command dispatcher, live-view streams and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helmwind/browserpilot/internal/api"
	"github.com/helmwind/browserpilot/internal/config"
	"github.com/helmwind/browserpilot/internal/dispatch"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
	"github.com/helmwind/browserpilot/internal/domain/session/ports"
	"github.com/helmwind/browserpilot/internal/driver/chromedp"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/notify"
	"github.com/helmwind/browserpilot/internal/sched"
	"github.com/helmwind/browserpilot/internal/store"
	"github.com/helmwind/browserpilot/internal/stream"
	"github.com/helmwind/browserpilot/internal/webrtc"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("browserpilotd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "browserpilotd: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "browserpilot"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Error().Err(err).Msg("daemon failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig, configPath string, logger zerolog.Logger) error {
	holder := config.NewHolder(cfg, configPath)
	if configPath != "" {
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			watchReloads(ctx, holder, logger)
		}
	}

	st, err := store.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	var notifier ports.NotificationDispatcher = notify.Nop{}
	if cfg.RedisAddr != "" {
		redis := notify.NewRedisDispatcher(cfg.RedisAddr, cfg.NotifyQueue, cfg.NotifyBufferSize)
		defer func() { _ = redis.Close() }()
		notifier = redis
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("push notifications enabled")
	}

	driver := chromedp.New(chromedp.Options{
		ExecPath:  cfg.BrowserExecPath,
		NoSandbox: cfg.BrowserNoSandbox,
	})

	p := pool.New(pool.Options{
		Driver:        driver,
		Fingerprints:  st,
		Plugins:       st,
		Notifier:      notifier,
		Policy:        cfg.CleanupPolicy,
		OpenTimeout:   cfg.BrowserOpenTimeout,
		HeartbeatHint: cfg.HeartbeatHint,
		MaxProfiles:   cfg.MaxProfiles,
	})

	mgr := stream.NewManager(p, nil)
	mjpeg := stream.NewMJPEG(p, mgr, stream.MJPEGConfig{
		FPS:     cfg.MJPEGFPS,
		Quality: cfg.MJPEGQuality,
	})
	rtc := webrtc.NewCoordinator(p, mgr, webrtc.Options{FPS: cfg.WebRTCFPS})
	disp := dispatch.New(p, dispatch.Config{
		CommandTimeout:    cfg.CommandTimeout,
		ScreenshotTimeout: cfg.ScreenshotTimeout,
		EvaluateTimeout:   cfg.EvaluateTimeout,
		StrictSafety:      cfg.SafetyStrict,
	})

	sweeper := pool.NewSweeper(p, mgr, pool.SweeperConfig{
		Interval:          cfg.CleanupPolicy.SweepInterval,
		LiveStreamTimeout: cfg.LiveStreamTimeout,
	})
	scheduler := sched.New()
	if err := scheduler.Add("session-sweep", cfg.CleanupPolicy.SweepInterval, sweeper.SweepOnce); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	if err := scheduler.Add("pool-stats", 5*time.Minute, func(context.Context) {
		stats := p.Stats()
		logger.Info().
			Int("sessions", stats.Total).
			Int("manual", stats.ManualSessions).
			Int("clients", stats.Clients).
			Int("streams", len(mgr.Snapshot())).
			Msg("pool stats")
	}); err != nil {
		return fmt.Errorf("schedule diagnostics: %w", err)
	}
	scheduler.Start(ctx)

	srv := api.New(cfg, p, disp, mgr, mjpeg, rtc)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays at the configured value, zero by default, so
		// long-lived MJPEG responses are not cut off.
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("listen", cfg.Listen).
			Str("store", cfg.StoreBackend).
			Bool("auth", !cfg.AuthDisabled).
			Msg("http server started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		if err := scheduler.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("scheduler shutdown incomplete")
		}
		if err := p.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("pool shutdown incomplete")
		}
		return nil
	})
	return g.Wait()
}

// watchReloads logs configuration changes picked up from disk. Values are
// bound at startup; a reload takes full effect on the next restart.
func watchReloads(ctx context.Context, holder *config.Holder, logger zerolog.Logger) {
	ch := make(chan config.AppConfig, 1)
	holder.Subscribe(ch)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-ch:
				logger.Info().
					Str("log_level", next.LogLevel).
					Int("rate_limit", next.RateLimit).
					Msg("configuration reloaded, restart to apply")
			}
		}
	}()
}
