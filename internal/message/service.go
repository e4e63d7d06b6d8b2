// Package message owns the Message lifecycle: inbound creation and
// outbound status transitions, with the ledger and the event bridge as
// side effects.
package message

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"whatsapp-relay/internal/model"
)

// Event names fanned out to live clients via the bridge.
const (
	EventStatusUpdate = "message_status_update"
	EventNewMessage   = "new_message"
)

type MessageStore interface {
	ByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	// ApplyStatusChange writes the message fields plus any campaign counter
	// and reminder flag in one transaction.
	ApplyStatusChange(ctx context.Context, m *model.Message, ch model.StatusChange) error
	// CreateInbound inserts the message and updates the conversation's
	// last-activity metadata in one transaction.
	CreateInbound(ctx context.Context, m *model.Message) error
	CreateOutgoing(ctx context.Context, m *model.Message) error
}

type ContactStore interface {
	ByID(ctx context.Context, id int64) (*model.Contact, error)
	FindByPhone(ctx context.Context, userID int64, phone string) (*model.Contact, error)
	Create(ctx context.Context, c *model.Contact) error
}

type ConversationStore interface {
	FindByUserContact(ctx context.Context, userID, contactID int64) (*model.Conversation, error)
	Create(ctx context.Context, c *model.Conversation) error
}

type UserStore interface {
	ByID(ctx context.Context, id int64) (*model.User, error)
	ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.User, error)
}

type Ledger interface {
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, externalMessageID string) (*model.WalletTransaction, error)
}

type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

type MediaFetcher interface {
	MediaURL(ctx context.Context, mediaID, accessToken string) (string, error)
	Download(ctx context.Context, url, accessToken string) ([]byte, string, error)
}

type MediaStore interface {
	Save(mimeType string, data []byte) (string, error)
}

type TemplateSender interface {
	SendTemplate(ctx context.Context, accessToken, phoneNumberID, to, name, language string, variables []string) (string, error)
}

// Inbound is one provider message after content extraction, ready for
// persistence.
type Inbound struct {
	ExternalID    string
	From          string
	Timestamp     time.Time
	Text          string
	MediaID       string
	MediaType     string
	ContactName   string
	PhoneNumberID string
}

type Deps struct {
	Messages      MessageStore
	Contacts      ContactStore
	Conversations ConversationStore
	Users         UserStore
	Ledger        Ledger
	Bus           Publisher
	Fetcher       MediaFetcher
	Media         MediaStore
	Sender        TemplateSender
	MessagePrice  decimal.Decimal
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}
