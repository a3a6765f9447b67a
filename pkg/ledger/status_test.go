package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusLaunching, StatusRunning, StatusCompleted, StatusFailed, StatusTerminated} {
		assert.True(t, s.Valid(), "status %s", s)
	}
	assert.False(t, Status("pending").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusLaunching.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusTerminated.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusLaunching, StatusRunning, true},
		{StatusLaunching, StatusFailed, true},
		{StatusLaunching, StatusTerminated, true},
		{StatusLaunching, StatusCompleted, false},
		{StatusLaunching, StatusLaunching, false},

		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusTerminated, true},
		{StatusRunning, StatusLaunching, false},

		// Terminal states accept only a re-mark of the same state.
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusFailed, true},
		{StatusFailed, StatusTerminated, false},
		{StatusTerminated, StatusTerminated, true},
		{StatusTerminated, StatusCompleted, false},

		{StatusRunning, Status("bogus"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}
