package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/polyclinic-scheduler/cmd/mainconfig"
	"github.com/wolfman30/polyclinic-scheduler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// notify-worker drains NOTIFY_QUEUE_URL and sends each notification through
// the configured email provider.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := mainconfig.Loader(cfg)
	queue, err := bootstrap.BuildNotifyQueue(ctx, cfg, loader)
	if err != nil {
		logger.Error("failed to build notify queue", "error", err)
		os.Exit(1)
	}
	if queue == nil {
		logger.Error("NOTIFY_QUEUE_URL is required for the notify worker")
		os.Exit(1)
	}

	sender, provider, reason := bootstrap.BuildEmailSender(ctx, cfg, loader, logger)
	if reason != "" {
		logger.Warn("email provider degraded", "provider", provider, "reason", reason)
	}
	deliverer := notify.NewEmailDeliverer(notify.NewComposer(cfg.ClinicName), sender)

	logger.Info("notify worker started", "queue_url", cfg.NotifyQueueURL, "provider", provider)
	if err := notify.NewConsumer(queue, deliverer, logger).Run(ctx); err != nil {
		logger.Error("notify worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("notify worker stopped")
}
