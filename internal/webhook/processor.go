package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"whatsapp-relay/internal/message"
	"whatsapp-relay/internal/model"
	"whatsapp-relay/internal/queue"
)

// RecordStore tracks the processing status of stored raw deliveries.
type RecordStore interface {
	MarkProcessing(ctx context.Context, id int64) error
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// StateMachine is the message lifecycle owner the processor delegates to.
type StateMachine interface {
	UpdateStatus(ctx context.Context, externalID string, ev model.StatusEvent) (*model.Message, error)
	ProcessInbound(ctx context.Context, in message.Inbound) (*model.Message, error)
}

// Processor consumes raw webhook jobs from the durable queue. Retries are
// the queue's concern; the processor only decides whether an error is worth
// retrying. Idempotency downstream (message-id and ledger uniqueness) is
// what makes redelivery safe.
type Processor struct {
	records RecordStore
	machine StateMachine
}

func NewProcessor(records RecordStore, machine StateMachine) *Processor {
	return &Processor{records: records, machine: machine}
}

// Handle processes one job. Returning an error re-raises to the queue's
// retry policy; a payload with no actionable content is a soft failure that
// is marked FAILED without retry value.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	if err := p.records.MarkProcessing(ctx, job.RecordID); err != nil {
		return fmt.Errorf("mark record %d processing: %w", job.RecordID, err)
	}

	value, err := Parse(job.Payload)
	if err != nil {
		slog.Warn("webhook: undecodable payload", "record_id", job.RecordID, "err", err)
		p.markFailed(ctx, job.RecordID, err.Error())
		return nil
	}

	acted := false

	if value != nil && len(value.Statuses) > 0 {
		notice := value.Statuses[0]
		if err := p.applyStatus(ctx, notice); err != nil {
			p.markFailed(ctx, job.RecordID, err.Error())
			return err
		}
		acted = true
	}

	if value != nil && len(value.Messages) > 0 {
		if err := p.applyInbound(ctx, value); err != nil {
			p.markFailed(ctx, job.RecordID, err.Error())
			return err
		}
		acted = true
	}

	if !acted {
		slog.Warn("webhook: payload without status or message content", "record_id", job.RecordID)
		p.markFailed(ctx, job.RecordID, "no actionable content")
		return nil
	}

	if err := p.records.MarkProcessed(ctx, job.RecordID); err != nil {
		return fmt.Errorf("mark record %d processed: %w", job.RecordID, err)
	}
	return nil
}

func (p *Processor) applyStatus(ctx context.Context, notice StatusNotice) error {
	ev := model.StatusEvent{
		Status:    model.MessageStatus(notice.Status),
		Timestamp: eventTime(notice.Timestamp),
	}
	if len(notice.Errors) > 0 {
		ev.ErrorCode = fmt.Sprintf("%d", notice.Errors[0].Code)
		ev.ErrorMessage = notice.Errors[0].Message
		if ev.ErrorMessage == "" {
			ev.ErrorMessage = notice.Errors[0].Title
		}
	}
	_, err := p.machine.UpdateStatus(ctx, notice.ID, ev)
	return err
}

func (p *Processor) applyInbound(ctx context.Context, value *Value) error {
	raw := value.Messages[0]
	content := raw.Content()

	in := message.Inbound{
		ExternalID:    raw.ID,
		From:          raw.From,
		Timestamp:     eventTime(raw.Timestamp),
		Text:          content.Text,
		MediaID:       content.MediaID,
		MediaType:     content.MediaType,
		PhoneNumberID: value.Metadata.PhoneNumberID,
	}
	if len(value.Contacts) > 0 {
		in.ContactName = value.Contacts[0].Profile.Name
	}

	_, err := p.machine.ProcessInbound(ctx, in)
	return err
}

func (p *Processor) markFailed(ctx context.Context, id int64, reason string) {
	if err := p.records.MarkFailed(ctx, id, reason); err != nil {
		slog.Error("webhook: marking record failed errored", "record_id", id, "err", err)
	}
}
