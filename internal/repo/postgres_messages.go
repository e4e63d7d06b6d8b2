package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"whatsapp-relay/internal/model"
)

type PostgresMessageStore struct {
	db *sql.DB
}

func NewPostgresMessageStore(db *sql.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

const messageColumns = `
	id, external_id, direction, status, user_id, contact_id, conversation_id,
	campaign_id, reminder_id, text, media_type, media_url, provider_media_id,
	template_name, sent_at, delivered_at, read_at, failed_at,
	error_code, error_message, created_at, updated_at
`

func (r *PostgresMessageStore) ByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE external_id = $1
	`, externalID)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyStatusChange writes the post-transition message fields and, in the
// same transaction, any campaign counter bump and reminder delivered flag.
func (r *PostgresMessageStore) ApplyStatusChange(ctx context.Context, m *model.Message, ch model.StatusChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET status = $2,
		    sent_at = $3,
		    delivered_at = $4,
		    read_at = $5,
		    failed_at = $6,
		    error_code = $7,
		    error_message = $8,
		    updated_at = now()
		WHERE id = $1
	`, m.ID, string(m.Status), m.SentAt, m.DeliveredAt, m.ReadAt, m.FailedAt,
		m.ErrorCode, m.ErrorMessage); err != nil {
		return err
	}

	if m.CampaignID != nil {
		if counter := counterColumn(ch); counter != "" {
			// No row lock on the campaign; counters are best-effort.
			query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1 WHERE id = $1`, counter, counter)
			if _, err := tx.ExecContext(ctx, query, *m.CampaignID); err != nil {
				return err
			}
		}
	}

	if ch.ReminderDelivered && m.ReminderID != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE contact_reminders
			SET delivered = TRUE, updated_at = now()
			WHERE id = $1
		`, *m.ReminderID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func counterColumn(ch model.StatusChange) string {
	switch {
	case ch.CountDelivered:
		return "delivered_count"
	case ch.CountRead:
		return "read_count"
	case ch.CountFailed:
		return "failed_count"
	default:
		return ""
	}
}

func (r *PostgresMessageStore) CreateInbound(ctx context.Context, m *model.Message) error {
	return r.create(ctx, m)
}

func (r *PostgresMessageStore) CreateOutgoing(ctx context.Context, m *model.Message) error {
	return r.create(ctx, m)
}

// create inserts the message and refreshes the conversation's last-activity
// metadata in one transaction.
func (r *PostgresMessageStore) create(ctx context.Context, m *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (
			external_id, direction, status, user_id, contact_id, conversation_id,
			campaign_id, reminder_id, text, media_type, media_url, provider_media_id,
			template_name, sent_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`, m.ExternalID, string(m.Direction), string(m.Status), m.UserID, m.ContactID,
		m.ConversationID, m.CampaignID, m.ReminderID, m.Text, m.MediaType, m.MediaURL,
		m.ProviderMediaID, m.TemplateName, m.SentAt, m.CreatedAt, m.UpdatedAt).Scan(&m.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: message external id", ErrConflict)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_text = $2, last_message_at = $3
		WHERE id = $1
	`, m.ConversationID, m.Text, m.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func scanMessage(row *sql.Row) (*model.Message, error) {
	var m model.Message
	var direction, status string
	var externalID, mediaType, mediaURL, providerMediaID, templateName sql.NullString
	var errorCode, errorMessage sql.NullString
	var campaignID, reminderID sql.NullInt64
	var sentAt, deliveredAt, readAt, failedAt sql.NullTime

	if err := row.Scan(
		&m.ID,
		&externalID,
		&direction,
		&status,
		&m.UserID,
		&m.ContactID,
		&m.ConversationID,
		&campaignID,
		&reminderID,
		&m.Text,
		&mediaType,
		&mediaURL,
		&providerMediaID,
		&templateName,
		&sentAt,
		&deliveredAt,
		&readAt,
		&failedAt,
		&errorCode,
		&errorMessage,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m.Direction = model.Direction(direction)
	m.Status = model.MessageStatus(status)
	m.ExternalID = nullStr(externalID)
	m.MediaType = nullStr(mediaType)
	m.MediaURL = nullStr(mediaURL)
	m.ProviderMediaID = nullStr(providerMediaID)
	m.TemplateName = nullStr(templateName)
	m.ErrorCode = nullStr(errorCode)
	m.ErrorMessage = nullStr(errorMessage)
	m.CampaignID = nullInt(campaignID)
	m.ReminderID = nullInt(reminderID)
	m.SentAt = nullTime(sentAt)
	m.DeliveredAt = nullTime(deliveredAt)
	m.ReadAt = nullTime(readAt)
	m.FailedAt = nullTime(failedAt)

	return &m, nil
}
