package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"healthid/internal/abdm/credential"
	"healthid/internal/abdm/fieldcrypt"
	abdmmetrics "healthid/internal/abdm/metrics"
	"healthid/internal/abdm/upstream"
	"healthid/internal/abha"
	abhahandler "healthid/internal/abha/handler"
	abhametrics "healthid/internal/abha/metrics"
	"healthid/internal/audit"
	"healthid/internal/platform/config"
	"healthid/internal/platform/httpserver"
	"healthid/internal/platform/logger"
	"healthid/internal/platform/metrics"
	"healthid/internal/platform/middleware"
	"healthid/internal/platform/redis"
	ratelimitmetrics "healthid/internal/ratelimit/metrics"
	ratelimitmw "healthid/internal/ratelimit/middleware"
	"healthid/internal/ratelimit/store/bucket"
	metadata "healthid/pkg/platform/middleware/metadata"
	"healthid/pkg/platform/middleware/requesttime"
)

const (
	auditBuffer     = 1024
	shutdownTimeout = 10 * time.Second
)

// main wires the gateway: authority client, field encryption, audit stream,
// OTP rate limiting and the HTTP surface.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server exited properly")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	abdmMetrics := abdmmetrics.New(registry)

	credentials := credential.New(credential.Config{
		BaseURL:      cfg.ABDM.BaseURL,
		ClientID:     cfg.ABDM.ClientID,
		ClientSecret: cfg.ABDM.ClientSecret,
		CMID:         cfg.ABDM.CMID,
	}, credential.WithLogger(log), credential.WithMetrics(abdmMetrics))

	client := upstream.New(upstream.Config{
		BaseURL:                     cfg.ABDM.ABHABaseURL,
		CMID:                        cfg.ABDM.CMID,
		Timeout:                     cfg.ABDM.Timeout,
		UserCallsAttachServiceToken: cfg.ABDM.UserCallsAttachServiceToken,
	}, credentials, upstream.WithLogger(log), upstream.WithMetrics(abdmMetrics))

	keys := fieldcrypt.NewKeySource(cfg.ABDM.PublicKey, cfg.ABDM.PublicKeyPath, client, log, abdmMetrics)
	encryptor := fieldcrypt.NewGateway(keys)

	g, gCtx := errgroup.WithContext(ctx)

	sinks := []audit.Sink{audit.NewLogSink(log)}
	if len(cfg.Audit.Brokers) > 0 {
		kafka, err := audit.NewKafkaSink(cfg.Audit.Brokers, cfg.Audit.Topic, log)
		if err != nil {
			return err
		}
		defer kafka.Close(context.Background())
		if err := kafka.EnsureTopic(ctx, 1, 1); err != nil {
			log.Warn("audit topic not ensured, relying on broker auto-creation", "topic", cfg.Audit.Topic, "error", err)
		}
		worker := audit.NewWorker(kafka, auditBuffer, log)
		sinks = append(sinks, worker)
		g.Go(func() error {
			if err := worker.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	publisher := audit.NewPublisher(log, sinks...)

	service, err := abha.New(client, encryptor,
		abha.WithLogger(log),
		abha.WithAuditPublisher(publisher),
		abha.WithMetrics(abhametrics.New(registry)),
		abha.WithCredentialProber(credentials),
	)
	if err != nil {
		return err
	}

	otpLimiter, closeStore, err := newOTPLimiter(ctx, cfg, log, publisher, registry)
	if err != nil {
		return err
	}
	defer closeStore()

	ipResolver, err := metadata.NewResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	httpMetrics := metrics.New(registry)
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recover(log))
	router.Use(requesttime.Middleware)
	router.Use(ipResolver.Middleware)
	router.Use(middleware.AccessLog(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(httpMetrics.Middleware)
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))

	abhahandler.New(service, log, abhahandler.WithOTPLimiter(otpLimiter.OTP)).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router, cfg.ABDM.Timeout)

	g.Go(func() error {
		log.Info("starting healthid gateway", "addr", cfg.Server.Addr, "abha_base_url", cfg.ABDM.ABHABaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newOTPLimiter uses Redis when configured, with an in-memory fallback for
// store outages, and a purely in-memory store otherwise.
func newOTPLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger, publisher *audit.Publisher, reg prometheus.Registerer) (*ratelimitmw.Middleware, func(), error) {
	closeStore := func() {}
	var store bucket.BucketStore = bucket.NewInMemoryBucketStore()
	opts := []ratelimitmw.Option{
		ratelimitmw.WithDisabled(cfg.RateLimit.Disabled),
		ratelimitmw.WithMetrics(ratelimitmetrics.New(reg)),
		ratelimitmw.WithAuditPublisher(publisher),
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, closeStore, err
	}
	if rc != nil {
		closeStore = func() { _ = rc.Close() }
		opts = append(opts, ratelimitmw.WithFallback(store))
		store = bucket.NewRedisBucketStore(rc.Client)
		log.Info("OTP rate limiting backed by redis")
	}

	limiter, err := ratelimitmw.New(store, cfg.RateLimit.OTPLimit, cfg.RateLimit.OTPWindow, log, opts...)
	if err != nil {
		closeStore()
		return nil, func() {}, err
	}
	return limiter, closeStore, nil
}
