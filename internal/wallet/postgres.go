package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"whatsapp-relay/internal/model"
)

// PostgresStore implements Store on a users.wallet_balance column and an
// append-only wallet_transactions table with a unique index on
// external_message_id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithinDebitTx(ctx context.Context, fn func(tx DebitTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin debit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Surface lock contention as an error instead of hanging past the
	// service deadline.
	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		return err
	}

	if err := fn(&pgDebitTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, txByExternalIDQuery, externalMessageID))
}

type pgDebitTx struct {
	tx *sql.Tx
}

const txByExternalIDQuery = `
	SELECT id, uuid, user_id, amount, type, external_message_id, created_at
	FROM wallet_transactions
	WHERE external_message_id = $1
`

func (t *pgDebitTx) TransactionByExternalID(ctx context.Context, externalMessageID string) (*model.WalletTransaction, error) {
	return scanTransaction(t.tx.QueryRowContext(ctx, txByExternalIDQuery, externalMessageID))
}

func (t *pgDebitTx) LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `
		SELECT wallet_balance
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse wallet balance %q: %w", raw, err)
	}
	return balance, nil
}

func (t *pgDebitTx) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE users
		SET wallet_balance = $2
		WHERE id = $1
	`, userID, balance.String())
	return err
}

func (t *pgDebitTx) InsertTransaction(ctx context.Context, wt *model.WalletTransaction) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions (uuid, user_id, amount, type, external_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, wt.UUID, wt.UserID, wt.Amount.String(), string(wt.Type), wt.ExternalMessageID, wt.CreatedAt).Scan(&wt.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: external_message_id %s", ErrDuplicateTransaction, wt.ExternalMessageID)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.WalletTransaction, error) {
	var wt model.WalletTransaction
	var amount, txType string
	err := row.Scan(&wt.ID, &wt.UUID, &wt.UserID, &amount, &txType, &wt.ExternalMessageID, &wt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wt.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse transaction amount %q: %w", amount, err)
	}
	wt.Type = model.TransactionType(txType)
	return &wt, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
