package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-dynamic-robot-initiative/trifingerpro-runner/internal/runner"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, StateTerminated, normalize(StateTerminatedSuccess))
	assert.Equal(t, StateTerminated, normalize(StateTerminatedError))
	assert.Equal(t, StateRunning, normalize(StateRunning))
	assert.Equal(t, StateTerminated, normalize(StateTerminated))
}

func TestProcessStateTerminated(t *testing.T) {
	assert.True(t, StateTerminatedSuccess.Terminated())
	assert.True(t, StateTerminatedError.Terminated())
	assert.True(t, StateTerminated.Terminated())
	assert.False(t, StateRunning.Terminated())
}

func TestMatchState(t *testing.T) {
	tests := []struct {
		name    string
		pattern ProcessState
		sampled ProcessState
		want    bool
	}{
		{"exact running", StateRunning, StateRunning, true},
		{"exact success", StateTerminatedSuccess, StateTerminatedSuccess, true},
		{"wildcard matches success", StateTerminated, StateTerminatedSuccess, true},
		{"wildcard matches error", StateTerminated, StateTerminatedError, true},
		{"wildcard does not match running", StateTerminated, StateRunning, false},
		{"success does not match error", StateTerminatedSuccess, StateTerminatedError, false},
		{"running does not match success", StateRunning, StateTerminatedSuccess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchState(tt.pattern, tt.sampled))
		})
	}
}

func TestCombinedStateMatches(t *testing.T) {
	pattern := CombinedState{StateRunning, StateTerminatedSuccess, StateTerminated}

	assert.True(t, CombinedState{StateRunning, StateTerminatedSuccess, StateTerminatedError}.matches(pattern))
	assert.True(t, CombinedState{StateRunning, StateTerminatedSuccess, StateTerminatedSuccess}.matches(pattern))
	assert.False(t, CombinedState{StateRunning, StateTerminatedError, StateTerminatedError}.matches(pattern))
	assert.False(t, CombinedState{StateRunning, StateTerminatedSuccess, StateRunning}.matches(pattern))
}

func TestClassify(t *testing.T) {
	r := &fakeRunner{kind: runner.KindUser, running: true}
	assert.Equal(t, StateRunning, Classify(r))

	r.exit(0)
	assert.Equal(t, StateTerminatedSuccess, Classify(r))

	r2 := &fakeRunner{kind: runner.KindUser, running: true}
	r2.exit(1)
	assert.Equal(t, StateTerminatedError, Classify(r2))
}

func TestCombinedStateString(t *testing.T) {
	s := CombinedState{StateRunning, StateTerminatedError, StateTerminated}
	assert.Equal(t, "(data: running, backend: terminated_error, user: terminated)", s.String())
}

func TestLookupUnknownState(t *testing.T) {
	_, ok := lookup(CombinedState{"bogus", StateRunning, StateRunning})
	assert.False(t, ok)
}

// The table must be total over the 27 combinations of classified states:
// the classifier only ever produces running/success/error, and every such
// triple has to hit a row.
func TestTransitionTableTotality(t *testing.T) {
	states := []ProcessState{StateRunning, StateTerminatedSuccess, StateTerminatedError}
	for _, d := range states {
		for _, b := range states {
			for _, u := range states {
				state := CombinedState{d, b, u}
				_, ok := lookup(state)
				assert.True(t, ok, "no row for %s", state)
			}
		}
	}
}
