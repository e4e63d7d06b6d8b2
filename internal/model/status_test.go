package model

import (
	"testing"
	"time"
)

func msgWithCampaign() *Message {
	campaignID := int64(7)
	return &Message{ID: 1, Direction: Outgoing, Status: StatusSent, CampaignID: &campaignID}
}

func TestTransitionStatus_ReadBackfillsDelivered(t *testing.T) {
	t.Parallel()

	m := &Message{ID: 1, Direction: Outgoing, Status: StatusSent}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ch := TransitionStatus(m, StatusEvent{Status: StatusRead, Timestamp: at})

	if m.Status != StatusRead {
		t.Fatalf("expected status read, got %s", m.Status)
	}
	if m.ReadAt == nil || !m.ReadAt.Equal(at) {
		t.Fatalf("expected ReadAt %v, got %v", at, m.ReadAt)
	}
	if m.DeliveredAt == nil || !m.DeliveredAt.Equal(at) {
		t.Fatalf("expected DeliveredAt backfilled to %v, got %v", at, m.DeliveredAt)
	}
	if ch.DeliveredAt == nil || ch.ReadAt == nil {
		t.Fatalf("expected change to carry both timestamps, got %+v", ch)
	}
}

func TestTransitionStatus_DeliveredCounterOnlyOnce(t *testing.T) {
	t.Parallel()

	m := msgWithCampaign()

	ch := TransitionStatus(m, StatusEvent{Status: StatusDelivered})
	if !ch.CountDelivered {
		t.Fatalf("expected delivered counter on first delivered event")
	}

	ch = TransitionStatus(m, StatusEvent{Status: StatusRead})
	if ch.CountDelivered {
		t.Fatalf("read after delivered must not count delivered again")
	}
	if !ch.CountRead {
		t.Fatalf("expected read counter on read event")
	}

	// A duplicate delivered redelivery counts nothing.
	ch = TransitionStatus(m, StatusEvent{Status: StatusDelivered})
	if ch.CountDelivered || ch.CountRead || ch.CountFailed {
		t.Fatalf("duplicate delivered must not count, got %+v", ch)
	}
}

func TestTransitionStatus_ReadWithoutDeliveredCountsReadOnly(t *testing.T) {
	t.Parallel()

	m := msgWithCampaign()

	ch := TransitionStatus(m, StatusEvent{Status: StatusRead})
	if ch.CountDelivered {
		t.Fatalf("backfill must not bump the delivered counter")
	}
	if !ch.CountRead {
		t.Fatalf("expected read counter")
	}
}

func TestTransitionStatus_NoCampaignCountsNothing(t *testing.T) {
	t.Parallel()

	m := &Message{ID: 1, Direction: Outgoing, Status: StatusSent}
	ch := TransitionStatus(m, StatusEvent{Status: StatusDelivered})
	if ch.CountDelivered || ch.CountRead || ch.CountFailed {
		t.Fatalf("message without campaign must not count, got %+v", ch)
	}
}

func TestTransitionStatus_Billable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   MessageStatus
		billable bool
	}{
		{StatusSent, true},
		{StatusDelivered, true},
		{StatusRead, false},
		{StatusFailed, false},
	}

	for _, tc := range cases {
		m := &Message{ID: 1}
		ch := TransitionStatus(m, StatusEvent{Status: tc.status})
		if ch.Billable != tc.billable {
			t.Fatalf("status %s: expected billable=%v, got %v", tc.status, tc.billable, ch.Billable)
		}
	}
}

func TestTransitionStatus_FailedRecordsError(t *testing.T) {
	t.Parallel()

	m := msgWithCampaign()
	ch := TransitionStatus(m, StatusEvent{
		Status:       StatusFailed,
		ErrorCode:    "131026",
		ErrorMessage: "recipient unreachable",
	})

	if !ch.CountFailed {
		t.Fatalf("expected failed counter")
	}
	if m.ErrorCode == nil || *m.ErrorCode != "131026" {
		t.Fatalf("expected error code recorded, got %v", m.ErrorCode)
	}
	if m.ErrorMessage == nil || *m.ErrorMessage != "recipient unreachable" {
		t.Fatalf("expected error message recorded, got %v", m.ErrorMessage)
	}
	if m.FailedAt == nil {
		t.Fatalf("expected FailedAt set")
	}
}

func TestTransitionStatus_ReminderDelivered(t *testing.T) {
	t.Parallel()

	reminderID := int64(3)
	m := &Message{ID: 1, ReminderID: &reminderID}

	if ch := TransitionStatus(m, StatusEvent{Status: StatusSent}); ch.ReminderDelivered {
		t.Fatalf("sent must not mark reminder delivered")
	}
	if ch := TransitionStatus(m, StatusEvent{Status: StatusDelivered}); !ch.ReminderDelivered {
		t.Fatalf("delivered must mark reminder delivered")
	}
	if ch := TransitionStatus(m, StatusEvent{Status: StatusRead}); !ch.ReminderDelivered {
		t.Fatalf("read must mark reminder delivered")
	}
}

func TestTransitionStatus_ZeroTimestampDefaultsToNow(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	m := &Message{ID: 1}
	TransitionStatus(m, StatusEvent{Status: StatusDelivered})
	after := time.Now().UTC()

	if m.DeliveredAt == nil || m.DeliveredAt.Before(before) || m.DeliveredAt.After(after) {
		t.Fatalf("expected DeliveredAt defaulted to now, got %v", m.DeliveredAt)
	}
}

// The provider is authoritative for the display status even when the
// report arrives out of order; only timestamps are backfilled.
func TestTransitionStatus_OutOfOrderReportIsAccepted(t *testing.T) {
	t.Parallel()

	m := &Message{ID: 1}
	TransitionStatus(m, StatusEvent{Status: StatusRead})
	TransitionStatus(m, StatusEvent{Status: StatusSent})

	if m.Status != StatusSent {
		t.Fatalf("expected latest reported status sent, got %s", m.Status)
	}
	if m.ReadAt == nil || m.DeliveredAt == nil {
		t.Fatalf("earlier timestamps must survive an out-of-order report")
	}
}
