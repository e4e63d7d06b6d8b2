package model

import "time"

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Message unifies inbound and outbound provider messages. ExternalID is the
// provider's message id and, when present, is unique: it is the idempotency
// key for both status updates and ledger debits.
type Message struct {
	ID             int64
	ExternalID     *string
	Direction      Direction
	Status         MessageStatus
	UserID         int64
	ContactID      int64
	ConversationID int64
	CampaignID     *int64
	ReminderID     *int64

	Text            string
	MediaType       *string
	MediaURL        *string
	ProviderMediaID *string
	TemplateName    *string

	SentAt       *time.Time
	DeliveredAt  *time.Time
	ReadAt       *time.Time
	FailedAt     *time.Time
	ErrorCode    *string
	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
