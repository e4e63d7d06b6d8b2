package model

import "time"

// StatusEvent is one provider status notice for a message. A zero Timestamp
// means the provider sent none; the transition then uses the current time.
type StatusEvent struct {
	Status       MessageStatus
	Timestamp    time.Time
	ErrorCode    string
	ErrorMessage string
}

// StatusChange is the outcome of applying a StatusEvent: which campaign
// counter to bump, whether the message is now billable, and whether a linked
// reminder should be marked delivered. The timestamp fields mirror what was
// written on the message, including a backfilled DeliveredAt.
type StatusChange struct {
	Status MessageStatus

	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	FailedAt    *time.Time

	CountDelivered bool
	CountRead      bool
	CountFailed    bool

	Billable          bool
	ReminderDelivered bool
}

// TransitionStatus applies a provider status event to m and reports what
// changed. Status notices may arrive out of order or with steps skipped; the
// overall Status always follows the latest report (the provider is
// authoritative for display), while a read without a prior delivered
// backfills DeliveredAt so delivery timestamps stay complete. Each campaign
// counter is bumped at most once per message, keyed on its timestamp being
// previously unset.
func TransitionStatus(m *Message, ev StatusEvent) StatusChange {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ch := StatusChange{Status: ev.Status}

	switch ev.Status {
	case StatusSent:
		if m.SentAt == nil {
			m.SentAt = &at
		}
		ch.SentAt = m.SentAt
		ch.Billable = true

	case StatusDelivered:
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
			ch.CountDelivered = m.CampaignID != nil
		}
		ch.DeliveredAt = m.DeliveredAt
		ch.Billable = true
		ch.ReminderDelivered = m.ReminderID != nil

	case StatusRead:
		if m.ReadAt == nil {
			m.ReadAt = &at
			ch.CountRead = m.CampaignID != nil
		}
		if m.DeliveredAt == nil {
			// Delivered was skipped; backfill the timestamp. The read
			// counter is the only one bumped for this event.
			m.DeliveredAt = &at
		}
		ch.ReadAt = m.ReadAt
		ch.DeliveredAt = m.DeliveredAt
		ch.ReminderDelivered = m.ReminderID != nil

	case StatusFailed:
		if m.FailedAt == nil {
			m.FailedAt = &at
			ch.CountFailed = m.CampaignID != nil
		}
		ch.FailedAt = m.FailedAt
		if ev.ErrorCode != "" {
			code := ev.ErrorCode
			m.ErrorCode = &code
		}
		if ev.ErrorMessage != "" {
			msg := ev.ErrorMessage
			m.ErrorMessage = &msg
		}
	}

	m.Status = ev.Status
	m.UpdatedAt = time.Now().UTC()
	return ch
}
