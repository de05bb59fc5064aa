package services

import (
	"context"
	"sync"
	"time"

	"subscription-api/internal/appstore"
	"subscription-api/pkg/logging"
)

const (
	EventRegistered       = "subscription.registered"
	EventRenewed          = "subscription.renewed"
	EventExpired          = "subscription.expired"
	EventAutoRenewChanged = "subscription.auto_renew_changed"
)

// SubscriptionEvent describes a change of a stored subscription
type SubscriptionEvent struct {
	Type                  string
	UserID                uint
	Email                 string
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	Active                bool
	AutoRenew             bool
	Environment           appstore.Environment
	ExpiresDate           time.Time
	OccurredAt            time.Time
}

// EventSink receives subscription events. Publish must not block on delivery.
type EventSink interface {
	Publish(ctx context.Context, event SubscriptionEvent)
}

// NopSink drops every event
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, event SubscriptionEvent) {}

// Dispatcher delivers events to the app backend webhook and by email, in the background
type Dispatcher struct {
	webhook *WebhookNotifier
	mailer  Mailer
	users   UserDirectory
	service string

	wg sync.WaitGroup
}

// NewDispatcher returns a dispatcher; webhook and mailer may be nil
func NewDispatcher(webhook *WebhookNotifier, mailer Mailer, users UserDirectory, serviceName string) *Dispatcher {
	return &Dispatcher{webhook: webhook, mailer: mailer, users: users, service: serviceName}
}

func (d *Dispatcher) Publish(ctx context.Context, event SubscriptionEvent) {
	// Delivery outlives the request that caused it
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, event)
	}()
}

// Wait blocks until every published event has been delivered
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, event SubscriptionEvent) {
	if d.webhook != nil {
		if err := d.webhook.Notify(ctx, event); err != nil {
			logging.Errorf("Webhook notification failed - event: %s, user_id: %d, error: %v", event.Type, event.UserID, err)
		}
	}

	if d.mailer == nil {
		return
	}
	notice, ok := composeNotice(d.service, event)
	if !ok {
		return
	}
	email := event.Email
	if email == "" && d.users != nil {
		var err error
		if email, err = d.users.FindEmailByID(ctx, event.UserID); err != nil {
			logging.Warnf("No email for subscription notice - user_id: %d, error: %v", event.UserID, err)
			return
		}
	}
	if email == "" {
		return
	}
	if err := d.mailer.Send(ctx, email, notice); err != nil {
		logging.Errorf("Subscription notice failed - event: %s, user_id: %d, error: %v", event.Type, event.UserID, err)
	}
}
