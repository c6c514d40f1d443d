package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not in the
// transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status represents the ingestion lifecycle state of a source.
type Status string

const (
	// StatusQueued means the source is waiting for an ingestion job.
	StatusQueued Status = "queued"
	// StatusIndexing means an ingestion job is working on the source.
	StatusIndexing Status = "indexing"
	// StatusIndexed means the last ingestion run completed successfully.
	StatusIndexed Status = "indexed"
	// StatusFailed means the last ingestion run failed.
	StatusFailed Status = "failed"
)

// AllStatuses returns every valid source status.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusIndexing, StatusIndexed, StatusFailed}
}

// IsValid returns true if the status is one of the known states.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusIndexing, StatusIndexed, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// statusTransitions is the explicit transition table. A transition to the
// same state is always allowed and treated as a no-op by the repository.
var statusTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusIndexing: true,
	},
	// A source with a live ingestion run cannot be re-queued; it has to
	// land in indexed or failed first. The stuck-source sweep resets
	// abandoned rows directly, outside this table.
	StatusIndexing: {
		StatusIndexed: true,
		StatusFailed:  true,
	},
	StatusIndexed: {
		StatusIndexing: true,
		StatusQueued:   true,
	},
	StatusFailed: {
		StatusIndexing: true,
		StatusQueued:   true,
	},
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Same-state transitions are allowed so that retried jobs can call
// the transition idempotently.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	return statusTransitions[s][next]
}

// ValidateTransition returns ErrInvalidTransition if moving from s to next
// is not allowed.
func (s Status) ValidateTransition(next Status) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}
