// Command aelira is the main entry point for the aelira audio gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aelira-dev/aelira/internal/api"
	"github.com/aelira-dev/aelira/internal/config"
	"github.com/aelira-dev/aelira/internal/observe"
	"github.com/aelira-dev/aelira/internal/routeplanner"
	"github.com/aelira-dev/aelira/internal/session"
	"github.com/aelira-dev/aelira/internal/source"
	"github.com/aelira-dev/aelira/internal/sysmon"
)

// version is stamped at build time via -ldflags.
var version = "4.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.String("config", "config.toml", "path to the TOML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aelira: config file %q not found — copy configs/example.toml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aelira: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Logging.Level.SlogLevel(),
	}))
	slog.SetDefault(logger)

	runtime.GOMAXPROCS(cfg.Cluster.EffectiveWorkers())

	slog.Info("aelira starting",
		"version", version,
		"config", *configPath,
		"addr", cfg.Server.Addr(),
		"workers", cfg.Cluster.EffectiveWorkers(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	metrics := observe.DefaultMetrics()

	sources := source.NewRegistry(logger)
	sources.Register(source.NewLocalSource())

	sessions := session.NewRegistry(sources, logger)
	sampler := sysmon.NewSampler(logger)
	planner := routeplanner.New(cfg.RoutePlanner.Class)

	server := api.NewServer(api.Deps{
		Cfg:      cfg,
		Sessions: sessions,
		Sources:  sources,
		Sampler:  sampler,
		Planner:  planner,
		Metrics:  metrics,
		Version:  version,
		Log:      logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.Router(),
	}

	publisher := session.NewPublisher(sessions, func() any {
		return api.BuildStatsFrame(sessions, sampler)
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", cfg.Server.Addr(), "sources", sources.Names())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}
