package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"postpilot/internal/config"
	"postpilot/internal/dispatch"
	"postpilot/internal/httpserver"
	"postpilot/internal/logging"
	"postpilot/internal/observability"
	"postpilot/internal/schedule"
	"postpilot/internal/service"
	"postpilot/internal/store/pg"
	"postpilot/internal/webhook"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	observability.Register(prometheus.DefaultRegisterer)

	dbStore := pg.New(db)
	sched := &service.SchedulingService{
		Store: dbStore,
		Alloc: &schedule.Allocator{Store: dbStore},
	}

	timeout, err := time.ParseDuration(cfg.WebhookTimeout)
	if err != nil {
		slog.Error("invalid WEBHOOK_TIMEOUT", "err", err)
		os.Exit(1)
	}
	disp := &dispatch.Dispatcher{
		Store:   dbStore,
		Sender:  &webhook.Client{HTTP: &http.Client{Timeout: timeout}},
		Limiter: rate.NewLimiter(rate.Limit(cfg.WebhookRPS), cfg.WebhookBurst),
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook",
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		}),
		MaxResponseBody: cfg.MaxResponseBody,
	}

	r := httpserver.NewRouter()
	api := &httpserver.API{Sched: sched, Disp: disp}
	api.Register(r)

	r.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(c context.Context) error {
		return db.Ping(c)
	})).Methods(http.MethodGet)

	handler := httpserver.Logging(httpserver.Metrics(observability.APIRequests)(r))
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "err", err)
			os.Exit(1)
		}
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("api shutdown", "signal", sig.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
