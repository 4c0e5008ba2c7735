package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gocron "github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"postpilot/internal/config"
	"postpilot/internal/dispatch"
	"postpilot/internal/httpserver"
	"postpilot/internal/logging"
	"postpilot/internal/observability"
	"postpilot/internal/store/pg"
	"postpilot/internal/webhook"
)

func main() {
	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat, cfg.LogLevel)

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
		slog.Error("dispatcher db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	dbStore := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

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

	// One sweep at a time; an overrunning sweep skips the next tick.
	var mu sync.Mutex
	sweep := func() {
		if !mu.TryLock() {
			slog.Warn("dispatch sweep still running, skipping tick")
			return
		}
		defer mu.Unlock()
		res, err := disp.SendDuePosts(ctx)
		if err != nil {
			slog.Error("dispatch sweep failed", "err", err)
			return
		}
		if res.Sent > 0 || res.Failed > 0 {
			slog.Info("dispatch sweep done", "sent", res.Sent, "failed", res.Failed, "errors", res.Errors)
		}
	}

	c := gocron.New()
	if _, err := c.AddFunc(cfg.DispatchCron, sweep); err != nil {
		slog.Error("invalid DISPATCH_CRON", "err", err, "expression", cfg.DispatchCron)
		os.Exit(1)
	}
	c.Start()

	r := httpserver.NewRouter()
	r.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(c context.Context) error {
		return db.Ping(c)
	})).Methods(http.MethodGet)

	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: httpserver.Logging(r)}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher health server failed", "err", err)
			os.Exit(1)
		}
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher metrics server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}

	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		slog.Warn("dispatch sweep did not finish before shutdown deadline")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
