package model

import "time"

// Campaign tracks delivery counters for a bulk send. The counters are
// best-effort: they are bumped inside the status-update transaction but the
// campaign row is not locked, so extreme concurrent bursts may race.
type Campaign struct {
	ID             int64
	UserID         int64
	Name           string
	SentCount      int64
	DeliveredCount int64
	ReadCount      int64
	FailedCount    int64
	CreatedAt      time.Time
}
