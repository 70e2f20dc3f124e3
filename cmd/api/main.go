package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/polyclinic-scheduler/cmd/mainconfig"
	"github.com/wolfman30/polyclinic-scheduler/internal/api/router"
	"github.com/wolfman30/polyclinic-scheduler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/polyclinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/polyclinic-scheduler/internal/worker"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting polyclinic-scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	metricsHandler, registry := setupMetrics()

	engine, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{
		LoadAWS:  mainconfig.Loader(cfg),
		Registry: registry,
	})
	if err != nil {
		return err
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	evict := worker.NewPeriodic("ratelimit_evict", 5*time.Minute, func(context.Context) (int, error) {
		return limiter.Evict(time.Now().Add(-10 * time.Minute)), nil
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(engine, limiter, metricsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	engine.StartJobs(ctx)
	evict.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		evict.Stop()
		engine.Close(shutdownCtx)
		logger.Info("server stopped")
		return err
	})
	return g.Wait()
}

// setupMetrics builds a dedicated registry so tests can construct it repeatedly.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

func buildRouter(e *bootstrap.Engine, limiter *httpmiddleware.RateLimiter, metricsHandler http.Handler) http.Handler {
	cfg := e.Config
	logger := e.Logger

	var dashboard handlers.DashboardService
	if e.Stats != nil {
		dashboard = e.Stats
	}

	return router.New(&router.Config{
		Logger:    logger,
		Tokens:    e.Tokens,
		RateLimit: limiter,
		Doctors: handlers.NewDoctorsHandler(handlers.DoctorsConfig{
			Schedule:     e.Schedule,
			Availability: e.Resolver,
			Users:        e.Users,
			Logger:       logger,
			Location:     e.Location,
		}),
		Visits: handlers.NewVisitsHandler(e.Coordinator, e.Schedule, logger),
		Crowd:  handlers.NewCrowdHandler(e.Detector, e.Loads, logger),
		OTP:    handlers.NewOTPHandler(e.Verifier, e.Tokens, cfg.GuestTokenTTL, logger),
		Admin: handlers.NewAdminHandler(handlers.AdminConfig{
			Remover: e.Coordinator,
			Users:   e.Users,
			Tokens:  e.Tokens,
			Logger:  logger,
		}),
		Stats:              handlers.NewStatsHandler(dashboard, logger),
		Health:             handlers.NewHealthHandler(healthChecks(e)),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func healthChecks(e *bootstrap.Engine) map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{}
	if e.Pool != nil {
		checks["postgres"] = e.Pool
	}
	if e.Redis != nil {
		checks["redis"] = redisPinger{client: e.Redis}
	}
	return checks
}
