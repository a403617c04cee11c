package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"sintgpt/internal/util"
)

// ErrInvalidSignature means the webhook payload failed signature
// verification.
var ErrInvalidSignature = errors.New("payment: webhook verification failed")

// WebhookEvent is the provider's event envelope.
type WebhookEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// ParseWebhook verifies the standard-webhooks signature when a secret is
// configured and decodes the event envelope. Without a secret the payload is
// accepted unverified (testing only).
func ParseWebhook(secret string, payload []byte, header http.Header) (*WebhookEvent, error) {
	if secret != "" {
		wh, err := standardwebhooks.NewWebhook(secret)
		if err != nil {
			return nil, fmt.Errorf("payment: webhook secret: %w", err)
		}
		if err := wh.Verify(payload, header); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		util.LogInfo("Webhook verified successfully")
	} else {
		util.LogWarn("Webhook secret not configured - accepting webhook without verification")
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("payment: decode webhook payload: %w", err)
	}
	return &event, nil
}

// HandleEvent dispatches on the event type. Only payment.completed is acted
// on (logged for analytics); everything else is acknowledged and dropped.
func HandleEvent(event *WebhookEvent) {
	switch event.EventType {
	case "payment.completed":
		util.LogInfo("Payment completed: payment_id=%v customer_id=%v amount=%v",
			event.Data["payment_id"], event.Data["customer_id"], event.Data["amount"])
	case "payment.failed":
		util.LogWarn("Payment failed: %v", event.Data)
	case "payment.refunded":
		util.LogWarn("Payment refunded: %v", event.Data)
	default:
		util.LogInfo("Unhandled webhook event: %s", event.EventType)
	}
}
