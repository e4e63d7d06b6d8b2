package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"whatsapp-relay/internal/model"
)

// PostgresWebhookRecordStore keeps one row per received provider callback.
// Rows are never deleted; they are the audit trail for every delivery.
type PostgresWebhookRecordStore struct {
	db *sql.DB
}

func NewPostgresWebhookRecordStore(db *sql.DB) *PostgresWebhookRecordStore {
	return &PostgresWebhookRecordStore{db: db}
}

func (r *PostgresWebhookRecordStore) Create(ctx context.Context, payload json.RawMessage) (*model.RawWebhookRecord, error) {
	rec := &model.RawWebhookRecord{
		Payload:    payload,
		Status:     model.WebhookReceived,
		ReceivedAt: time.Now().UTC(),
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_records (payload, status, received_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, []byte(payload), string(rec.Status), rec.ReceivedAt).Scan(&rec.ID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PostgresWebhookRecordStore) ByID(ctx context.Context, id int64) (*model.RawWebhookRecord, error) {
	rec, err := scanWebhookRecord(r.db.QueryRowContext(ctx, `
		SELECT id, payload, status, error, received_at, processed_at
		FROM webhook_records
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *PostgresWebhookRecordStore) List(ctx context.Context, status string, limit int) ([]*model.RawWebhookRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, payload, status, error, received_at, processed_at
		FROM webhook_records
	`
	args := []any{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY received_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RawWebhookRecord
	for rows.Next() {
		rec, err := scanWebhookRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresWebhookRecordStore) MarkProcessing(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records
		SET status = $2, error = NULL
		WHERE id = $1
	`, id, string(model.WebhookProcessing))
	return err
}

func (r *PostgresWebhookRecordStore) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records
		SET status = $2, processed_at = now()
		WHERE id = $1
	`, id, string(model.WebhookProcessed))
	return err
}

func (r *PostgresWebhookRecordStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records
		SET status = $2, error = $3
		WHERE id = $1
	`, id, string(model.WebhookFailed), reason)
	return err
}

func scanWebhookRecord(row rowScanner) (*model.RawWebhookRecord, error) {
	var rec model.RawWebhookRecord
	var payload []byte
	var status string
	var errText sql.NullString
	var processedAt sql.NullTime

	if err := row.Scan(&rec.ID, &payload, &status, &errText, &rec.ReceivedAt, &processedAt); err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.Status = model.WebhookStatus(status)
	rec.Error = nullStr(errText)
	rec.ProcessedAt = nullTime(processedAt)
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
