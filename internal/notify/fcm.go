package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"dockqueue-backend/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMPusher handles Firebase Cloud Messaging
type FCMPusher struct {
	client multicastSender
}

// NewFCMPusher creates a pusher from a credentials file
func NewFCMPusher(ctx context.Context, credentialsFile string) (*FCMPusher, error) {
	return newFCMPusher(ctx, option.WithCredentialsFile(credentialsFile))
}

// NewFCMPusherFromBase64 creates a pusher from base64-encoded credentials.
// Useful for cloud deployments where uploading a file is awkward.
func NewFCMPusherFromBase64(ctx context.Context, credentialsBase64 string) (*FCMPusher, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMPusher(ctx, option.WithCredentialsJSON(credentialsJSON))
}

func newFCMPusher(ctx context.Context, opt option.ClientOption) (*FCMPusher, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

// SendDockAssigned pushes the dock notice to every device of the driver.
func (p *FCMPusher) SendDockAssigned(ctx context.Context, tokens []string, notice models.DockNotification) error {
	response, err := p.client.SendEachForMulticast(ctx, dockMessage(tokens, notice))
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Info().
		Str("tax_id", notice.TaxID).
		Int("success", response.SuccessCount).
		Int("failures", response.FailureCount).
		Msg("✅ Dock notice pushed")

	if response.SuccessCount == 0 && response.FailureCount > 0 {
		for _, r := range response.Responses {
			if r != nil && r.Error != nil {
				return fmt.Errorf("all %d pushes failed: %w", response.FailureCount, r.Error)
			}
		}
		return fmt.Errorf("all %d pushes failed", response.FailureCount)
	}
	return nil
}

func dockMessage(tokens []string, notice models.DockNotification) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: "Dock assigned",
			Body:  fmt.Sprintf("Proceed to dock %s. Please confirm within %d minutes.", notice.Dock, responseMinutes(notice)),
		},
		Data: map[string]string{
			"type":              EventDockAssigned,
			"entry_id":          notice.EntryID,
			"dock":              notice.Dock,
			"notified_at":       notice.NotifiedAt.Format(time.RFC3339),
			"response_deadline": notice.ResponseDeadline.Format(time.RFC3339),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
}

func responseMinutes(notice models.DockNotification) int {
	return int(notice.ResponseDeadline.Sub(notice.NotifiedAt).Round(time.Minute) / time.Minute)
}
