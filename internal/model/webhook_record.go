package model

import (
	"encoding/json"
	"time"
)

type WebhookStatus string

const (
	WebhookReceived   WebhookStatus = "RECEIVED"
	WebhookProcessing WebhookStatus = "PROCESSING"
	WebhookProcessed  WebhookStatus = "PROCESSED"
	WebhookFailed     WebhookStatus = "FAILED"
)

// RawWebhookRecord is one received provider callback, kept forever as an
// audit trail. Status moves RECEIVED -> PROCESSING -> PROCESSED/FAILED, and
// FAILED -> PROCESSING again on redelivery or manual replay.
type RawWebhookRecord struct {
	ID          int64
	Payload     json.RawMessage
	Status      WebhookStatus
	Error       *string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}
