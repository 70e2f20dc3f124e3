package notify

import (
	"context"
	"fmt"
)

// Deliverer performs one delivery attempt and reports the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// EmailDeliverer renders with a Composer and hands the result to an EmailSender.
type EmailDeliverer struct {
	composer Composer
	sender   EmailSender
}

func NewEmailDeliverer(composer Composer, sender EmailSender) *EmailDeliverer {
	if sender == nil {
		panic("notify: email sender required")
	}
	return &EmailDeliverer{composer: composer, sender: sender}
}

func (d *EmailDeliverer) Deliver(ctx context.Context, n Notification) error {
	msg, err := d.composer.Compose(n)
	if err != nil {
		return err
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: deliver %s: %w", n.Kind, err)
	}
	return nil
}
