package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		current State
		event   Event
		want    State
		wantOK  bool
	}{
		{"open probe", Open, EventProbe, ProbeAnswer, true},
		{"open reserve", Open, EventReserve, ReserveAnswer, true},
		{"reserve commit", ReserveAnswer, EventCommit, Committed, true},
		{"committed finish", Committed, EventFinish, Finished, true},
		{"committed delete", Committed, EventDelete, Deleted, true},
		{"finished has no transitions", Finished, EventDelete, Finished, false},
		{"rejected has no transitions", Rejected, EventReserve, Rejected, false},
		{"open cannot commit directly", Open, EventCommit, Open, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Transition(tt.current, tt.event)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast(Committed, ReserveAnswer))
	assert.True(t, AtLeast(ReserveAnswer, ReserveAnswer))
	assert.False(t, AtLeast(Open, ReserveAnswer))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(Rejected))
	assert.True(t, Terminal(Deleted))
	assert.True(t, Terminal(Finished))
	assert.False(t, Terminal(Open))
	assert.False(t, Terminal(Committed))
}
