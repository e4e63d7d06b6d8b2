// Package reminder sweeps due scheduled sends and originates the outbound
// template deliveries for them.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-relay/internal/message"
	"whatsapp-relay/internal/model"
)

type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]*model.ContactReminder, error)
	Reschedule(ctx context.Context, id int64, next time.Time) error
	MarkTriggered(ctx context.Context, id int64, sendErr *string) error
	RecordFailure(ctx context.Context, id int64, reason string) error
}

type TemplateSender interface {
	SendTemplate(ctx context.Context, req message.SendTemplateRequest) (*model.Message, error)
}

type Service struct {
	store  Store
	sender TemplateSender
}

func NewService(store Store, sender TemplateSender) *Service {
	return &Service{store: store, sender: sender}
}

// Sweep processes every due reminder once. Reminders are independent: one
// failing never aborts the rest of the batch.
func (s *Service) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		slog.Error("reminder: listing due reminders failed", "err", err)
		return
	}
	if len(due) == 0 {
		return
	}

	slog.Info("reminder: sweeping due reminders", "count", len(due))
	for _, rem := range due {
		s.process(ctx, rem)
	}
}

func (s *Service) process(ctx context.Context, rem *model.ContactReminder) {
	if rem.TemplateName == nil {
		slog.Info("reminder: due without configured template, skipping", "reminder_id", rem.ID)
		return
	}

	reminderID := rem.ID
	_, err := s.sender.SendTemplate(ctx, message.SendTemplateRequest{
		UserID:       rem.UserID,
		ContactID:    rem.ContactID,
		TemplateName: *rem.TemplateName,
		Language:     rem.TemplateLanguage,
		Variables:    rem.TemplateVariables,
		ReminderID:   &reminderID,
	})
	if err != nil {
		s.recordSendFailure(ctx, rem, err)
		return
	}

	if rem.Recurring() {
		next := model.NextOccurrence(rem.OnDate, rem.RepeatUnit, rem.RepeatEvery)
		if err := s.store.Reschedule(ctx, rem.ID, next); err != nil {
			slog.Error("reminder: rescheduling failed", "reminder_id", rem.ID, "err", err)
		}
		return
	}

	if err := s.store.MarkTriggered(ctx, rem.ID, nil); err != nil {
		slog.Error("reminder: marking triggered failed", "reminder_id", rem.ID, "err", err)
	}
}

func (s *Service) recordSendFailure(ctx context.Context, rem *model.ContactReminder, sendErr error) {
	slog.Error("reminder: template send failed", "reminder_id", rem.ID, "err", sendErr)

	if rem.Recurring() {
		// The schedule stays put so the next tick retries.
		if err := s.store.RecordFailure(ctx, rem.ID, sendErr.Error()); err != nil {
			slog.Error("reminder: recording failure failed", "reminder_id", rem.ID, "err", err)
		}
		return
	}

	// A non-recurring reminder is still retired, otherwise a permanently
	// broken template would be retried forever.
	reason := fmt.Sprintf("send failed: %v", sendErr)
	if err := s.store.MarkTriggered(ctx, rem.ID, &reason); err != nil {
		slog.Error("reminder: marking triggered failed", "reminder_id", rem.ID, "err", err)
	}
}
