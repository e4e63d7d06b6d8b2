package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-relay/internal/model"
)

type PostgresReminderStore struct {
	db *sql.DB
}

func NewPostgresReminderStore(db *sql.DB) *PostgresReminderStore {
	return &PostgresReminderStore{db: db}
}

// ListDue returns reminders that are neither triggered nor delivered and
// whose date is strictly past, or that are scheduled today with a time at
// or before now (or flagged all-day).
func (r *PostgresReminderStore) ListDue(ctx context.Context, now time.Time) ([]*model.ContactReminder, error) {
	today := now.Format("2006-01-02")
	clock := now.Format("15:04")

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, contact_id, on_date, at_time, all_day,
		       repeat_every, repeat_unit, template_name, template_language,
		       template_variables, triggered, delivered, last_error,
		       created_at, updated_at
		FROM contact_reminders
		WHERE triggered = FALSE
		  AND delivered = FALSE
		  AND (
			on_date < $1::date
			OR (on_date = $1::date AND (all_day OR (at_time <> '' AND at_time <= $2)))
		  )
		ORDER BY on_date ASC
	`, today, clock)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ContactReminder
	for rows.Next() {
		var rem model.ContactReminder
		var repeatUnit string
		var templateName, lastError sql.NullString
		var rawVars []byte

		if err := rows.Scan(
			&rem.ID,
			&rem.UserID,
			&rem.ContactID,
			&rem.OnDate,
			&rem.AtTime,
			&rem.AllDay,
			&rem.RepeatEvery,
			&repeatUnit,
			&templateName,
			&rem.TemplateLanguage,
			&rawVars,
			&rem.Triggered,
			&rem.Delivered,
			&lastError,
			&rem.CreatedAt,
			&rem.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rem.RepeatUnit = model.RepeatUnit(repeatUnit)
		rem.TemplateName = nullStr(templateName)
		rem.LastError = nullStr(lastError)
		if len(rawVars) > 0 {
			if err := json.Unmarshal(rawVars, &rem.TemplateVariables); err != nil {
				return nil, fmt.Errorf("decode template variables for reminder %d: %w", rem.ID, err)
			}
		}
		out = append(out, &rem)
	}
	return out, rows.Err()
}

// Reschedule advances a recurring reminder to its next occurrence and
// resets the cycle flags.
func (r *PostgresReminderStore) Reschedule(ctx context.Context, id int64, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_reminders
		SET on_date = $2,
		    triggered = FALSE,
		    delivered = FALSE,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, next)
	return err
}

// MarkTriggered permanently retires a non-recurring reminder, recording
// the send failure when there was one.
func (r *PostgresReminderStore) MarkTriggered(ctx context.Context, id int64, sendErr *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_reminders
		SET triggered = TRUE,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, sendErr)
	return err
}

// RecordFailure notes a failed send on a recurring reminder without
// advancing its schedule, so the next tick retries it.
func (r *PostgresReminderStore) RecordFailure(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_reminders
		SET last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, reason)
	return err
}
