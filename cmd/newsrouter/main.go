// Command newsrouter runs the news routing daemon.
//
// It crawls the configured feeds on a schedule, indexes new articles, routes
// them to users whose standing queries they match, and serves an HTTP API for
// triggering cycles and managing users and queries. With Kafka enabled it
// also consumes query-created events and publishes deliveries.
//
// Usage:
//
//	go run ./cmd/newsrouter [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/brendte/news-router/internal/api"
	"github.com/brendte/news-router/internal/app"
	"github.com/brendte/news-router/internal/pipeline"
	"github.com/brendte/news-router/pkg/config"
	"github.com/brendte/news-router/pkg/logger"
	"github.com/brendte/news-router/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting newsrouter",
		"port", cfg.Server.Port,
		"index_backend", cfg.Index.Backend,
		"cycle_interval", cfg.Cycle.Interval,
		"kafka", cfg.Kafka.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, prometheus.DefaultGatherer, a.Health.ReadyHandler())
		if err := ms.Start(); err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	handler := api.NewHandler(a.Coordinator, a.Queries, a.Store, a.Ranker, cfg.Router.DefaultThreshold)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, a.Health, a.Metrics, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pipeline.NewScheduler(a.Coordinator, cfg.Cycle.Interval, cfg.Cycle.RunOnStart).Run(gctx)
		return nil
	})

	if consumer := a.QueryConsumer(); consumer != nil {
		g.Go(func() error {
			defer consumer.Close()
			slog.Info("consuming query-created events",
				"topic", cfg.Kafka.Topics.QueryCreated,
				"group", cfg.Kafka.ConsumerGroup,
			)
			if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("query-created consumer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("newsrouter listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("newsrouter stopped with error", "error", err)
		a.Close()
		os.Exit(1)
	}
	slog.Info("newsrouter stopped")
}
