package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusQueued, StatusIndexing, true},
		{StatusQueued, StatusIndexed, false},
		{StatusQueued, StatusFailed, false},
		{StatusIndexing, StatusIndexed, true},
		{StatusIndexing, StatusFailed, true},
		{StatusIndexing, StatusQueued, false},
		{StatusIndexed, StatusIndexing, true},
		{StatusIndexed, StatusQueued, true},
		{StatusIndexed, StatusFailed, false},
		{StatusFailed, StatusIndexing, true},
		{StatusFailed, StatusQueued, true},
		{StatusFailed, StatusIndexed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// Re-queueing a source mid-run would let a second ingestion job race the
// one already holding it in indexing.
func TestIndexingSourceCannotBeRequeued(t *testing.T) {
	err := StatusIndexing.ValidateTransition(StatusQueued)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestStatusSameStateAlwaysAllowed(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.True(t, s.CanTransitionTo(s), "same-state transition for %s", s)
	}
}

func TestValidateTransition(t *testing.T) {
	err := StatusQueued.ValidateTransition(StatusIndexed)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = StatusQueued.ValidateTransition(Status("bogus"))
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	assert.NoError(t, StatusQueued.ValidateTransition(StatusIndexing))
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.True(t, s.IsValid())
	}
	assert.False(t, Status("processing").IsValid())
	assert.False(t, Status("").IsValid())
}
