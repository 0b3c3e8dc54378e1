// Package main запускает HTTP-сервер платформы онлайн-курсов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/courseplatform/internal/config"
	"github.com/mmeshcher/courseplatform/internal/handler"
	"github.com/mmeshcher/courseplatform/internal/metrics"
	"github.com/mmeshcher/courseplatform/internal/middleware"
	"github.com/mmeshcher/courseplatform/internal/payment"
	"github.com/mmeshcher/courseplatform/internal/repository"
	"github.com/mmeshcher/courseplatform/internal/scheduler"
	"github.com/mmeshcher/courseplatform/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var provider service.PaymentProvider
	if cfg.PaymentsEnabled() {
		provider = payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentSecretKey, cfg.PaymentTimeout)
	} else {
		sugar.Warn("payment provider is not configured, only free courses are available")
	}

	var verifier service.WebhookVerifier
	if cfg.PaymentWebhookSecret != "" {
		verifier = payment.NewWebhookVerifier(cfg.PaymentWebhookSecret)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.NewService(repo, provider, verifier, logger, service.Options{
		Currency:       cfg.PaymentCurrency,
		PublicURL:      cfg.PublicURL,
		PaymentTimeout: cfg.PaymentTimeout,
		PendingTTL:     cfg.PendingTTL,
		AdminLogin:     cfg.AdminLogin,
		Metrics:        metrics.New(reg),
	})
	defer svc.Close()

	sched := scheduler.New(logger)
	if err := sched.AddJob(cfg.SweepSchedule, "pending_sweep", svc.RunPendingSweep); err != nil {
		sugar.Fatalw("scheduler configuration error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая сверка зависших оплат
	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting courseplatform server", "addr", cfg.RunAddress, "payments", cfg.PaymentsEnabled())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
