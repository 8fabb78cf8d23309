// Package status derives lifecycle states from raw attempt records.
//
// Every function here is pure: it reads the attempts it is given, never
// mutates them, and does not depend on their order unless stated.
package status

import (
	"github.com/3leaps/batchlens/pkg/record"
)

// State is the lifecycle state of a chunk or a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Verification is the cross-validation state of a chunk.
type Verification string

const (
	VerificationNotApplicable Verification = "n/a"
	VerificationPending       Verification = "pending"
	VerificationVerified      Verification = "verified"
	VerificationMismatch      Verification = "mismatch"
)

// ResolveChunk derives a chunk's state from its attempts.
//
// The checks run in a fixed order. An in-progress attempt always wins, even
// over an older successful attempt that is still waiting on the validator.
// A successful result that the validator has not decided on yet is reported
// as running.
func ResolveChunk(needValidate bool, attempts []record.Attempt) State {
	if len(attempts) == 0 {
		return StateQueued
	}

	for _, a := range attempts {
		if a.ServerState == record.ServerStateInProgress {
			return StateRunning
		}
	}

	succeeded := false
	accepted := false
	allOver := true
	for _, a := range attempts {
		if a.ServerState != record.ServerStateOver {
			allOver = false
			continue
		}
		if a.Outcome != record.OutcomeSuccess {
			continue
		}
		succeeded = true
		if a.ValidateState == record.ValidateStateValid || a.ValidateState == record.ValidateStateNoCheck {
			accepted = true
		}
	}

	if succeeded {
		if !needValidate || accepted {
			return StateCompleted
		}
		return StateRunning
	}
	if allOver {
		return StateFailed
	}
	return StateQueued
}

// ResolveVerification derives a chunk's verification state.
// Valid takes precedence over invalid when both are present.
func ResolveVerification(needValidate bool, attempts []record.Attempt) Verification {
	if !needValidate {
		return VerificationNotApplicable
	}
	for _, a := range attempts {
		if a.ValidateState == record.ValidateStateValid {
			return VerificationVerified
		}
	}
	for _, a := range attempts {
		if a.ValidateState == record.ValidateStateInvalid {
			return VerificationMismatch
		}
	}
	return VerificationPending
}

// RetryCount is the number of concluded attempts beyond the first.
func RetryCount(attempts []record.Attempt) int {
	over := 0
	for _, a := range attempts {
		if a.ServerState == record.ServerStateOver {
			over++
		}
	}
	if over <= 1 {
		return 0
	}
	return over - 1
}

// ResolveJob aggregates chunk states into a job state.
//
// Precedence: failed, then completed (all chunks), then running, then queued.
// A job with no chunks is queued.
func ResolveJob(chunks []State) State {
	if len(chunks) == 0 {
		return StateQueued
	}

	allCompleted := true
	anyRunning := false
	for _, s := range chunks {
		switch s {
		case StateFailed:
			return StateFailed
		case StateRunning:
			anyRunning = true
		}
		if s != StateCompleted {
			allCompleted = false
		}
	}

	if allCompleted {
		return StateCompleted
	}
	if anyRunning {
		return StateRunning
	}
	return StateQueued
}
