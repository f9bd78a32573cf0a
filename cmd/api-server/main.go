package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medibook/hospital-appointments/internal/api"
	"github.com/medibook/hospital-appointments/internal/appointment"
	"github.com/medibook/hospital-appointments/internal/config"
	"github.com/medibook/hospital-appointments/internal/db"
	"github.com/medibook/hospital-appointments/internal/logging"
	"github.com/medibook/hospital-appointments/internal/metrics"
	"github.com/medibook/hospital-appointments/internal/payment"
	redisclient "github.com/medibook/hospital-appointments/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("version", version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	var gateway payment.Gateway
	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		gateway = payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.PaymentAllowMock, logger)
		logger.Info().Bool("allow_mock", cfg.PaymentAllowMock).Msg("using razorpay payment gateway")
	} else {
		if !cfg.PaymentAllowMock {
			logger.Fatal().Msg("razorpay credentials missing and mock payments are disabled")
		}
		gateway = payment.NewMockGateway(logger)
		logger.Warn().Msg("razorpay credentials missing, using mock payment gateway")
	}

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisReservationLocker(rdb, cfg.LockTTL)
	bookingMetrics := metrics.NewBookingMetrics(nil)

	svc := appointment.NewService(repo, locker, gateway, logger, appointment.ServiceOptions{
		CancelWindow: cfg.CancelWindow,
		Metrics:      bookingMetrics,
	})

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		PgPool:        pgPool,
		Redis:         rdb,
		Env:           cfg.Env,
		Version:       version,
		Logger:        logger,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}
