package types

import (
	"encoding/json"
	"time"
)

// WebhookEvent represents a webhook event to be delivered
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventName string          `json:"event_name"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// invoice event names
const (
	WebhookEventInvoiceCreated    = "invoice.created"
	WebhookEventInvoicePaymentSet = "invoice.updated.payment"
)

// subscription event names
const (
	WebhookEventSubscriptionActivated = "subscription.activated"
	WebhookEventSubscriptionExpired   = "subscription.expired"
)
