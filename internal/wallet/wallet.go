package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"whatsapp-relay/internal/model"
)

// Sentinel errors shared by all store implementations.
var (
	ErrInsufficientBalance  = errors.New("insufficient wallet balance")
	ErrUserNotFound         = errors.New("user not found")
	ErrDuplicateTransaction = errors.New("duplicate wallet transaction")
)

// DebitTx is the set of primitives a debit needs inside one transaction.
// LockBalance must hold a row lock on the user's balance until the
// transaction ends, so concurrent debits for the same user serialize.
type DebitTx interface {
	LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error)
	UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, tx *model.WalletTransaction) error
}

type Store interface {
	// WithinDebitTx runs fn inside one serializable transaction, committing
	// on nil and rolling back on error.
	WithinDebitTx(ctx context.Context, fn func(tx DebitTx) error) error
	TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error)
}

// Service is the wallet ledger. Debit deducts from a user's balance exactly
// once per distinct external message id.
type Service struct {
	store   Store
	timeout time.Duration
}

func NewService(store Store, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{store: store, timeout: timeout}
}

// Debit deducts amount from the user's balance, keyed by externalMessageID.
// A transaction already existing for that id is returned unchanged with no
// balance mutation. A missing id cannot be made idempotent, so the call is
// skipped with a warning instead of processed.
func (s *Service) Debit(ctx context.Context, userID int64, amount decimal.Decimal, externalMessageID string) (*model.WalletTransaction, error) {
	if externalMessageID == "" {
		slog.Warn("wallet: debit without external message id skipped", "user_id", userID)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out *model.WalletTransaction
	err := s.store.WithinDebitTx(ctx, func(tx DebitTx) error {
		existing, err := tx.TransactionByExternalID(ctx, externalMessageID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		balance, err := tx.LockBalance(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, balance, amount)
		}
		if err := tx.UpdateBalance(ctx, userID, balance.Sub(amount)); err != nil {
			return err
		}

		wt := &model.WalletTransaction{
			UUID:              uuid.NewString(),
			UserID:            userID,
			Amount:            amount,
			Type:              model.TxDebit,
			ExternalMessageID: externalMessageID,
			CreatedAt:         time.Now().UTC(),
		}
		if err := tx.InsertTransaction(ctx, wt); err != nil {
			return err
		}
		out = wt
		return nil
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		// Lost the insert race to a concurrent debit for the same id; the
		// winner's row is the exactly-once proof.
		return s.store.TransactionByExternalID(ctx, externalMessageID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
