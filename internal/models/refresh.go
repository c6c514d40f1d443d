package models

import "time"

// RefreshSchedule determines when a source should be re-ingested.
type RefreshSchedule string

const (
	// RefreshNever disables automatic re-ingestion.
	RefreshNever RefreshSchedule = "never"
	// RefreshDaily re-ingests the source every day.
	RefreshDaily RefreshSchedule = "daily"
	// RefreshWeekly re-ingests the source every week.
	RefreshWeekly RefreshSchedule = "weekly"
	// RefreshMonthly re-ingests the source every calendar month.
	RefreshMonthly RefreshSchedule = "monthly"
)

// IsValid returns true if the schedule is one of the known values.
func (r RefreshSchedule) IsValid() bool {
	switch r {
	case RefreshNever, RefreshDaily, RefreshWeekly, RefreshMonthly:
		return true
	default:
		return false
	}
}

// Next computes the next refresh time relative to now. A nil result means
// the source is never refreshed automatically.
func (r RefreshSchedule) Next(now time.Time) *time.Time {
	var next time.Time
	switch r {
	case RefreshDaily:
		next = now.AddDate(0, 0, 1)
	case RefreshWeekly:
		next = now.AddDate(0, 0, 7)
	case RefreshMonthly:
		next = now.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}
