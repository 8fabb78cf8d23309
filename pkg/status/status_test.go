package status

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/batchlens/pkg/record"
)

func over(outcome record.Outcome, vs record.ValidateState) record.Attempt {
	return record.Attempt{ServerState: record.ServerStateOver, Outcome: outcome, ValidateState: vs}
}

func inProgress() record.Attempt {
	return record.Attempt{ServerState: record.ServerStateInProgress}
}

func unsent() record.Attempt {
	return record.Attempt{ServerState: record.ServerStateUnsent}
}

func TestResolveChunk(t *testing.T) {
	tests := []struct {
		name         string
		needValidate bool
		attempts     []record.Attempt
		want         State
	}{
		{"no attempts", false, nil, StateQueued},
		{"unsent only", false, []record.Attempt{unsent()}, StateQueued},
		{"inactive and unsent", true, []record.Attempt{{ServerState: record.ServerStateInactive}, unsent()}, StateQueued},
		{"in progress", false, []record.Attempt{inProgress()}, StateRunning},
		{
			"in progress beats finished success",
			false,
			[]record.Attempt{over(record.OutcomeSuccess, record.ValidateStateValid), inProgress()},
			StateRunning,
		},
		{
			"in progress beats stale unvalidated success",
			true,
			[]record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInit), inProgress()},
			StateRunning,
		},
		{"success without validation", false, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInit)}, StateCompleted},
		{"success validated", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateValid)}, StateCompleted},
		{"success no check", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateNoCheck)}, StateCompleted},
		{"success awaiting validator", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInit)}, StateRunning},
		{"success invalid only", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInvalid)}, StateRunning},
		{
			"one valid among several successes",
			true,
			[]record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInvalid), over(record.OutcomeSuccess, record.ValidateStateValid)},
			StateCompleted,
		},
		{"all over none succeeded", false, []record.Attempt{over(record.OutcomeClientError, 0), over(record.OutcomeNoReply, 0)}, StateFailed},
		{"failed then retry unsent", false, []record.Attempt{over(record.OutcomeClientError, 0), unsent()}, StateQueued},
		{
			"failed then success",
			false,
			[]record.Attempt{over(record.OutcomeClientError, 0), over(record.OutcomeSuccess, 0)},
			StateCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveChunk(tt.needValidate, tt.attempts))
		})
	}
}

func TestResolveChunk_InProgressAlwaysRunning(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	states := []record.ServerState{record.ServerStateInactive, record.ServerStateUnsent, record.ServerStateOver}
	for i := 0; i < 200; i++ {
		n := rng.Intn(5)
		attempts := make([]record.Attempt, 0, n+1)
		for j := 0; j < n; j++ {
			attempts = append(attempts, record.Attempt{
				ServerState:   states[rng.Intn(len(states))],
				Outcome:       record.Outcome(rng.Intn(4)),
				ValidateState: record.ValidateState(rng.Intn(4)),
			})
		}
		attempts = append(attempts, inProgress())
		rng.Shuffle(len(attempts), func(a, b int) { attempts[a], attempts[b] = attempts[b], attempts[a] })

		assert.Equal(t, StateRunning, ResolveChunk(rng.Intn(2) == 0, attempts))
	}
}

func TestResolveVerification(t *testing.T) {
	tests := []struct {
		name         string
		needValidate bool
		attempts     []record.Attempt
		want         Verification
	}{
		{"not required", false, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateValid)}, VerificationNotApplicable},
		{"no attempts", true, nil, VerificationPending},
		{"pending", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInit)}, VerificationPending},
		{"verified", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateValid)}, VerificationVerified},
		{"mismatch", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInvalid)}, VerificationMismatch},
		{
			"valid beats invalid",
			true,
			[]record.Attempt{over(record.OutcomeSuccess, record.ValidateStateInvalid), over(record.OutcomeSuccess, record.ValidateStateValid)},
			VerificationVerified,
		},
		{"no check is pending", true, []record.Attempt{over(record.OutcomeSuccess, record.ValidateStateNoCheck)}, VerificationPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveVerification(tt.needValidate, tt.attempts))
		})
	}
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, RetryCount(nil))
	assert.Equal(t, 0, RetryCount([]record.Attempt{unsent(), inProgress()}))
	assert.Equal(t, 0, RetryCount([]record.Attempt{over(record.OutcomeSuccess, 0)}))

	attempts := []record.Attempt{
		over(record.OutcomeClientError, 0),
		unsent(),
		over(record.OutcomeNoReply, 0),
		over(record.OutcomeSuccess, 0),
		inProgress(),
	}
	assert.Equal(t, 2, RetryCount(attempts))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]record.Attempt(nil), attempts...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, 2, RetryCount(shuffled))
	}
}

func TestFailureReason(t *testing.T) {
	t.Run("no failures", func(t *testing.T) {
		_, ok := FailureReason([]record.Attempt{over(record.OutcomeSuccess, 0), inProgress()})
		assert.False(t, ok)
	})

	t.Run("latest received wins", func(t *testing.T) {
		attempts := []record.Attempt{
			{ID: 9, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, ReceivedAt: 100, Stderr: "old failure"},
			{ID: 3, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, ReceivedAt: 200, Stderr: "new failure\nstack line"},
		}
		reason, ok := FailureReason(attempts)
		assert.True(t, ok)
		assert.Equal(t, "new failure", reason)
	})

	t.Run("equal timestamps pick higher id", func(t *testing.T) {
		attempts := []record.Attempt{
			{ID: 11, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, ReceivedAt: 50, Stderr: "from 11"},
			{ID: 12, ServerState: record.ServerStateOver, Outcome: record.OutcomeNoReply, ReceivedAt: 50, Stderr: "from 12"},
		}
		reason, _ := FailureReason(attempts)
		assert.Equal(t, "from 12", reason)

		attempts[0], attempts[1] = attempts[1], attempts[0]
		reason, _ = FailureReason(attempts)
		assert.Equal(t, "from 12", reason)
	})

	t.Run("missing timestamps fall back to id", func(t *testing.T) {
		attempts := []record.Attempt{
			{ID: 2, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, Stderr: "two"},
			{ID: 1, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, Stderr: "one"},
		}
		reason, _ := FailureReason(attempts)
		assert.Equal(t, "two", reason)
	})

	t.Run("synthesized when stderr blank", func(t *testing.T) {
		attempts := []record.Attempt{
			{ID: 1, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, ExitStatus: 137, Stderr: "  \n "},
		}
		reason, ok := FailureReason(attempts)
		assert.True(t, ok)
		assert.Equal(t, "exit_status=137 outcome=3", reason)
	})

	t.Run("truncated to limit", func(t *testing.T) {
		long := strings.Repeat("é", MaxReasonRunes+20)
		attempts := []record.Attempt{
			{ID: 1, ServerState: record.ServerStateOver, Outcome: record.OutcomeClientError, Stderr: long},
		}
		reason, _ := FailureReason(attempts)
		assert.Equal(t, strings.Repeat("é", MaxReasonRunes)+"…", reason)
	})

	t.Run("ignores success and unfinished attempts", func(t *testing.T) {
		attempts := []record.Attempt{
			{ID: 5, ServerState: record.ServerStateOver, Outcome: record.OutcomeSuccess, ReceivedAt: 999, Stderr: "not a failure"},
			{ID: 6, ServerState: record.ServerStateInProgress, ReceivedAt: 999, Stderr: "running"},
			{ID: 1, ServerState: record.ServerStateOver, Outcome: record.OutcomeInit, ReceivedAt: 1, Stderr: "timed out"},
		}
		reason, ok := FailureReason(attempts)
		assert.True(t, ok)
		assert.Equal(t, "timed out", reason)
	})
}

func TestResolveJob(t *testing.T) {
	tests := []struct {
		name   string
		chunks []State
		want   State
	}{
		{"empty", nil, StateQueued},
		{"all queued", []State{StateQueued, StateQueued}, StateQueued},
		{"all completed", []State{StateCompleted, StateCompleted}, StateCompleted},
		{"failed dominates completed", []State{StateCompleted, StateFailed, StateCompleted}, StateFailed},
		{"failed dominates running", []State{StateRunning, StateFailed}, StateFailed},
		{"running with queued", []State{StateQueued, StateRunning}, StateRunning},
		{"running with completed", []State{StateCompleted, StateRunning}, StateRunning},
		{"completed with queued", []State{StateCompleted, StateQueued}, StateQueued},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveJob(tt.chunks))
		})
	}
}
