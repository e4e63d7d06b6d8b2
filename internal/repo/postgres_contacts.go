package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"whatsapp-relay/internal/model"
)

type PostgresContactStore struct {
	db *sql.DB
}

func NewPostgresContactStore(db *sql.DB) *PostgresContactStore {
	return &PostgresContactStore{db: db}
}

func (r *PostgresContactStore) ByID(ctx context.Context, id int64) (*model.Contact, error) {
	return scanContact(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, phone, created_at
		FROM contacts
		WHERE id = $1
	`, id))
}

// FindByPhone looks a contact up by normalized digits, tolerating the
// historical variant stored with a leading "+".
func (r *PostgresContactStore) FindByPhone(ctx context.Context, userID int64, phone string) (*model.Contact, error) {
	return scanContact(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, phone, created_at
		FROM contacts
		WHERE user_id = $1 AND (phone = $2 OR phone = '+' || $2)
	`, userID, phone))
}

func (r *PostgresContactStore) Create(ctx context.Context, c *model.Contact) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (user_id, name, phone, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.UserID, c.Name, c.Phone, c.CreatedAt).Scan(&c.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: contact phone %s", ErrConflict, c.Phone)
	}
	return err
}

func scanContact(row *sql.Row) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type PostgresConversationStore struct {
	db *sql.DB
}

func NewPostgresConversationStore(db *sql.DB) *PostgresConversationStore {
	return &PostgresConversationStore{db: db}
}

func (r *PostgresConversationStore) FindByUserContact(ctx context.Context, userID, contactID int64) (*model.Conversation, error) {
	var c model.Conversation
	var lastText sql.NullString
	var lastAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, contact_id, last_message_text, last_message_at, created_at
		FROM conversations
		WHERE user_id = $1 AND contact_id = $2
	`, userID, contactID).Scan(&c.ID, &c.UserID, &c.ContactID, &lastText, &lastAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastText.Valid {
		c.LastMessageText = lastText.String
	}
	if lastAt.Valid {
		c.LastMessageAt = lastAt.Time
	}
	return &c, nil
}

func (r *PostgresConversationStore) Create(ctx context.Context, c *model.Conversation) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO conversations (user_id, contact_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, c.UserID, c.ContactID, c.CreatedAt).Scan(&c.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: conversation (user %d, contact %d)", ErrConflict, c.UserID, c.ContactID)
	}
	return err
}
