package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	jwttoken "policyvault/internal/jwt_token"
	"policyvault/internal/notify"
	"policyvault/internal/platform/config"
	"policyvault/internal/platform/httpserver"
	"policyvault/internal/platform/logger"
	"policyvault/internal/platform/metrics"
	"policyvault/internal/platform/middleware"
	"policyvault/internal/platform/ratelimit"
	"policyvault/internal/platform/tracing"
	"policyvault/internal/vault/handler"
	vaultmetrics "policyvault/internal/vault/metrics"
	"policyvault/internal/vault/service"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("policyvault stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("policyvault stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	deps, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	svc, err := service.New(deps.repo, deps.custody,
		service.WithLogger(log),
		service.WithMetrics(vaultmetrics.New()),
		service.WithPolicyLocker(deps.locker),
		service.WithCustodyTimeout(cfg.Custody.Timeout),
	)
	if err != nil {
		return fmt.Errorf("build vault service: %w", err)
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	relay, err := notify.NewRelay(deps.outbox, publisher,
		notify.WithRelayLogger(log),
		notify.WithRelayMetrics(notify.NewMetrics()),
		notify.WithInterval(cfg.Kafka.RelayInterval),
		notify.WithBatchSize(cfg.Kafka.RelayBatchSize),
	)
	if err != nil {
		return fmt.Errorf("build notification relay: %w", err)
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	limiter, err := newSpendLimiter(cfg.Limits, deps, log)
	if err != nil {
		return err
	}
	router := newRouter(cfg, log, svc, jwttoken.NewJWTServiceAdapter(jwtService), deps.health, metrics.New(), limiter)
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting policyvault", "addr", cfg.Server.Addr, "store", deps.kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newRouter(cfg *config.Config, log *slog.Logger, svc handler.Service, validator middleware.JWTValidator, health func(context.Context) error, httpMetrics *metrics.Metrics, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(log))
	r.Use(middleware.LatencyMiddleware(httpMetrics))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := health(ctx); err != nil {
			log.WarnContext(ctx, "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(validator, log))
		var opts []handler.Option
		if limiter != nil {
			opts = append(opts, handler.WithSpendMiddleware(limiter.PerCaller("spend")))
		}
		handler.New(svc, log, opts...).Register(r)
	})
	return r
}
