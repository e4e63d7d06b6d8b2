package message

import (
	"context"
	"log/slog"

	"whatsapp-relay/internal/model"
)

type statusEventPayload struct {
	ExternalMessageID string `json:"externalMessageId"`
	Status            string `json:"status"`
}

// UpdateStatus applies one provider status notice to the message identified
// by externalID. Unknown ids are a no-op: the provider may report status
// for a message this system never recorded. The returned message is nil in
// that case.
func (s *Service) UpdateStatus(ctx context.Context, externalID string, ev model.StatusEvent) (*model.Message, error) {
	m, err := s.deps.Messages.ByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		slog.Info("message: status update for unknown external id", "external_id", externalID, "status", ev.Status)
		return nil, nil
	}

	ch := model.TransitionStatus(m, ev)
	if err := s.deps.Messages.ApplyStatusChange(ctx, m, ch); err != nil {
		return nil, err
	}

	// Billing rides on sent/delivered, but billing correctness is
	// independent from messaging state: a failed debit is logged, never
	// propagated.
	if ch.Billable {
		if _, err := s.deps.Ledger.Debit(ctx, m.UserID, s.deps.MessagePrice, externalID); err != nil {
			slog.Error("message: wallet debit failed",
				"external_id", externalID, "user_id", m.UserID, "err", err)
		}
	}

	if err := s.deps.Bus.Publish(ctx, EventStatusUpdate, statusEventPayload{
		ExternalMessageID: externalID,
		Status:            string(ch.Status),
	}); err != nil {
		slog.Error("message: publishing status event failed", "external_id", externalID, "err", err)
	}

	return m, nil
}
