package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

const DefaultTTL = 10 * time.Minute

var (
	// ErrInvalidOrExpired covers wrong, expired and already-used codes alike.
	ErrInvalidOrExpired = errors.New("otp: code invalid or expired")
	ErrEmailRequired    = errors.New("otp: email required")
)

// Verifier issues and checks one-time codes that gate guest actions.
type Verifier struct {
	store     Store
	generator Generator
	notifier  notify.Notifier
	metrics   *metrics.SchedulerMetrics
	logger    *logging.Logger
	ttl       time.Duration
	now       func() time.Time
}

func NewVerifier(store Store, generator Generator, notifier notify.Notifier, logger *logging.Logger) *Verifier {
	if store == nil || generator == nil {
		panic("otp: store and generator required")
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Verifier{
		store:     store,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

func (v *Verifier) WithTTL(ttl time.Duration) *Verifier {
	if ttl > 0 {
		v.ttl = ttl
	}
	return v
}

func (v *Verifier) WithMetrics(m *metrics.SchedulerMetrics) *Verifier {
	v.metrics = m
	return v
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

func (v *Verifier) TTL() time.Duration { return v.ttl }

// Issue stores a fresh code for email and sends it out. Earlier codes stay valid.
func (v *Verifier) Issue(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	code, err := v.generator.Generate()
	if err != nil {
		v.metrics.ObserveOTP("issue", "error")
		return "", err
	}
	if err := v.store.Save(ctx, Code{Email: email, Code: code, ExpiresAt: v.now().Add(v.ttl)}); err != nil {
		v.metrics.ObserveOTP("issue", "error")
		return "", fmt.Errorf("otp: issue: %w", err)
	}
	v.metrics.ObserveOTP("issue", "ok")
	v.notifier.Notify(ctx, notify.Notification{
		Kind:      notify.KindOTPIssued,
		To:        email,
		Code:      code,
		ExpiresIn: v.ttl,
	})
	v.logger.Info("otp issued", "email", email)
	return code, nil
}

// Verify consumes a matching unexpired code. A store failure is logged and
// reported as ErrInvalidOrExpired like any other miss.
func (v *Verifier) Verify(ctx context.Context, email, code string) error {
	email = NormalizeEmail(email)
	if email == "" || code == "" {
		v.metrics.ObserveOTP("verify", "rejected")
		return ErrInvalidOrExpired
	}
	ok, err := v.store.Consume(ctx, email, code, v.now())
	if err != nil {
		v.logger.Error("otp verify failed", "email", email, "error", err)
		v.metrics.ObserveOTP("verify", "error")
		return ErrInvalidOrExpired
	}
	if !ok {
		v.metrics.ObserveOTP("verify", "rejected")
		return ErrInvalidOrExpired
	}
	v.metrics.ObserveOTP("verify", "ok")
	return nil
}

// Sweep deletes expired codes.
func (v *Verifier) Sweep(ctx context.Context) (int, error) {
	n, err := v.store.DeleteExpired(ctx, v.now())
	if err != nil {
		return 0, fmt.Errorf("otp: sweep: %w", err)
	}
	if n > 0 {
		v.logger.Debug("expired otps removed", "count", n)
	}
	return n, nil
}
