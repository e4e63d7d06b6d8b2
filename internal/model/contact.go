package model

import (
	"strings"
	"time"
)

// Contact is identified by normalized phone digits per user. It is created
// on the first inbound message from an unknown sender.
type Contact struct {
	ID        int64
	UserID    int64
	Name      string
	Phone     string
	CreatedAt time.Time
}

// Conversation is the unique (user, contact) thread, created lazily on the
// first message in either direction.
type Conversation struct {
	ID              int64
	UserID          int64
	ContactID       int64
	LastMessageText string
	LastMessageAt   time.Time
	CreatedAt       time.Time
}

// NormalizePhone reduces a phone number to its digits. Historical rows may
// carry a leading "+", so lookups try both forms.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
