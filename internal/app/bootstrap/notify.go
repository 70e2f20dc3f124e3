package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// AWSLoader resolves the shared AWS config; only called when a component needs it.
type AWSLoader func(ctx context.Context) (aws.Config, error)

// BuildEmailSender picks the configured provider. Anything misconfigured
// degrades to the stub sender with the reason returned.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, loadAWS AWSLoader, logger *logging.Logger) (notify.EmailSender, string, string) {
	switch cfg.EmailProvider {
	case "sendgrid":
		s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if s == nil {
			return notify.NewStubEmailSender(logger), "stub", "SENDGRID_API_KEY not set"
		}
		return s, "sendgrid", ""
	case "ses":
		if cfg.SESFromEmail == "" {
			return notify.NewStubEmailSender(logger), "stub", "SES_FROM_EMAIL not set"
		}
		if loadAWS == nil {
			return notify.NewStubEmailSender(logger), "stub", "aws config unavailable"
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return notify.NewStubEmailSender(logger), "stub", fmt.Sprintf("load aws config: %v", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.ClinicName,
		}, logger), "ses", ""
	default:
		return notify.NewStubEmailSender(logger), "stub", ""
	}
}

// BuildNotifyQueue returns the SQS queue when NOTIFY_QUEUE_URL is set.
func BuildNotifyQueue(ctx context.Context, cfg *appconfig.Config, loadAWS AWSLoader) (notify.Queue, error) {
	if cfg.NotifyQueueURL == "" || loadAWS == nil {
		return nil, nil
	}
	awsCfg, err := loadAWS(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL), nil
}

// BuildDeliverer sends through the queue when one is configured so a
// separate notify-worker owns the email provider; otherwise it emails inline.
func BuildDeliverer(ctx context.Context, cfg *appconfig.Config, loadAWS AWSLoader, logger *logging.Logger) (notify.Deliverer, error) {
	queue, err := BuildNotifyQueue(ctx, cfg, loadAWS)
	if err != nil {
		return nil, err
	}
	if queue != nil {
		logger.Info("notifications routed through queue", "queue_url", cfg.NotifyQueueURL)
		return notify.NewQueueDeliverer(queue), nil
	}
	sender, provider, reason := BuildEmailSender(ctx, cfg, loadAWS, logger)
	if reason != "" {
		logger.Warn("email provider degraded", "provider", provider, "reason", reason)
	} else {
		logger.Info("email provider selected", "provider", provider)
	}
	return notify.NewEmailDeliverer(notify.NewComposer(cfg.ClinicName), sender), nil
}
