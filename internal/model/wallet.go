package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the owning tenant of contacts, conversations and the wallet.
// PhoneNumberID is the provider's routing identifier for the tenant's
// WhatsApp number; callbacks carry it so inbound events can be attributed.
type User struct {
	ID            int64
	Name          string
	PhoneNumberID string
	AccessToken   string
	WalletBalance decimal.Decimal
	CreatedAt     time.Time
}

type TransactionType string

const (
	TxDebit TransactionType = "debit"
)

// WalletTransaction is an append-only ledger entry. ExternalMessageID is
// unique: a transaction existing for a message id is proof that exactly one
// debit occurred for that message.
type WalletTransaction struct {
	ID                int64
	UUID              string
	UserID            int64
	Amount            decimal.Decimal
	Type              TransactionType
	ExternalMessageID string
	CreatedAt         time.Time
}
