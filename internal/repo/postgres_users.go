package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"whatsapp-relay/internal/model"
)

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (r *PostgresUserStore) ByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, name, phone_number_id, access_token, wallet_balance, created_at
		FROM users
		WHERE id = $1
	`, id))
}

func (r *PostgresUserStore) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, name, phone_number_id, access_token, wallet_balance, created_at
		FROM users
		WHERE phone_number_id = $1
	`, phoneNumberID))
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var balance string
	err := row.Scan(&u.ID, &u.Name, &u.PhoneNumberID, &u.AccessToken, &balance, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.WalletBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse wallet balance %q: %w", balance, err)
	}
	return &u, nil
}
