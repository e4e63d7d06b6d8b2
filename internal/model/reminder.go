package model

import "time"

type RepeatUnit string

const (
	RepeatNone   RepeatUnit = ""
	RepeatDays   RepeatUnit = "days"
	RepeatWeeks  RepeatUnit = "weeks"
	RepeatMonths RepeatUnit = "months"
)

// ContactReminder is a scheduled, optionally recurring, template send.
// Recurring entries are never deleted: after a successful send OnDate is
// advanced to the next occurrence and the flags reset for the next cycle.
type ContactReminder struct {
	ID        int64
	UserID    int64
	ContactID int64

	OnDate time.Time
	AtTime string // "15:04", empty for none
	AllDay bool

	RepeatEvery int
	RepeatUnit  RepeatUnit

	TemplateName      *string
	TemplateLanguage  string
	TemplateVariables map[string]string

	Triggered bool
	Delivered bool
	LastError *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *ContactReminder) Recurring() bool {
	return r.RepeatEvery > 0 && r.RepeatUnit != RepeatNone
}

// NextOccurrence advances a scheduled date by one recurrence step.
func NextOccurrence(date time.Time, unit RepeatUnit, every int) time.Time {
	switch unit {
	case RepeatDays:
		return date.AddDate(0, 0, every)
	case RepeatWeeks:
		return date.AddDate(0, 0, 7*every)
	case RepeatMonths:
		return date.AddDate(0, every, 0)
	default:
		return date
	}
}
