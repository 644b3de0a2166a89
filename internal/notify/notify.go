// Package notify fans queue events out to observers. Delivery is
// best-effort: callers get an error back but state never depends on it.
package notify

import (
	"context"
	"fmt"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/store"

	"go.uber.org/multierr"
)

const (
	QueueChannel = "queue"

	EventQueueChanged = "queue_changed"
	EventDockAssigned = "dock_assigned"
)

// DriverChannel is the private channel of one driver.
func DriverChannel(taxID string) string {
	return "driver:" + taxID
}

// Publisher delivers an event on a named channel without waiting for
// subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Pusher sends a dock notice to a driver's phones.
type Pusher interface {
	SendDockAssigned(ctx context.Context, tokens []string, notice models.DockNotification) error
}

type Service struct {
	publisher Publisher
	tokens    store.TokenStore
	pusher    Pusher
}

// NewService wires the realtime publisher. tokens and pusher are optional;
// without them dock notices go over the realtime channel only.
func NewService(publisher Publisher, tokens store.TokenStore, pusher Pusher) *Service {
	return &Service{publisher: publisher, tokens: tokens, pusher: pusher}
}

// BroadcastQueueChanged tells every observer to re-fetch the queue.
func (s *Service) BroadcastQueueChanged(ctx context.Context) error {
	if err := s.publisher.Publish(ctx, QueueChannel, EventQueueChanged, nil); err != nil {
		return fmt.Errorf("broadcast %s: %w", EventQueueChanged, err)
	}
	return nil
}

// NotifyDriver publishes on the driver's private channel only.
func (s *Service) NotifyDriver(ctx context.Context, taxID, event string, payload any) error {
	if err := s.publisher.Publish(ctx, DriverChannel(taxID), event, payload); err != nil {
		return fmt.Errorf("notify driver %s: %w", taxID, err)
	}
	return nil
}

// NotifyDock sends the dock notice over the driver channel and as a push
// notification. Both are attempted; their errors are combined.
func (s *Service) NotifyDock(ctx context.Context, notice models.DockNotification) error {
	err := s.NotifyDriver(ctx, notice.TaxID, EventDockAssigned, notice)

	if s.pusher == nil || s.tokens == nil {
		return err
	}
	tokens, tokErr := s.tokens.TokensForDriver(ctx, notice.TaxID)
	if tokErr != nil {
		return multierr.Append(err, fmt.Errorf("load push tokens: %w", tokErr))
	}
	if len(tokens) == 0 {
		return err
	}
	if pushErr := s.pusher.SendDockAssigned(ctx, tokens, notice); pushErr != nil {
		err = multierr.Append(err, fmt.Errorf("push dock notice: %w", pushErr))
	}
	return err
}
