// Package record defines the normalized execution records consumed by the
// status-derivation engine.
//
// Both store backends (relational and in-memory) translate their native rows
// into these shapes. Resolvers and aggregators only ever see record values and
// never branch on where the data came from.
//
// Numeric codes mirror the BOINC server constants so relational rows can be
// scanned without translation.
package record

import (
	"fmt"
	"strings"
)

// ServerState is the server-side progression of an attempt.
// The progression is linear; ServerStateOver is terminal.
type ServerState int

const (
	ServerStateInactive   ServerState = 1
	ServerStateUnsent     ServerState = 2
	ServerStateInProgress ServerState = 4
	ServerStateOver       ServerState = 5
)

func (s ServerState) String() string {
	switch s {
	case ServerStateInactive:
		return "inactive"
	case ServerStateUnsent:
		return "unsent"
	case ServerStateInProgress:
		return "in_progress"
	case ServerStateOver:
		return "over"
	default:
		return fmt.Sprintf("server_state(%d)", int(s))
	}
}

// ParseServerState accepts the names returned by String.
func ParseServerState(s string) (ServerState, error) {
	switch normalizeName(s) {
	case "inactive":
		return ServerStateInactive, nil
	case "unsent":
		return ServerStateUnsent, nil
	case "in_progress":
		return ServerStateInProgress, nil
	case "over":
		return ServerStateOver, nil
	}
	return 0, fmt.Errorf("unknown server state %q", s)
}

// Outcome is the result of an attempt once it is over.
// Any value other than OutcomeInit and OutcomeSuccess counts as a failure.
type Outcome int

const (
	OutcomeInit        Outcome = 0
	OutcomeSuccess     Outcome = 1
	OutcomeCouldntSend Outcome = 2
	OutcomeClientError Outcome = 3
	OutcomeNoReply     Outcome = 4
	OutcomeDidntNeed   Outcome = 5
	OutcomeValidateErr Outcome = 6
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInit:
		return "init"
	case OutcomeSuccess:
		return "success"
	case OutcomeCouldntSend:
		return "couldnt_send"
	case OutcomeClientError:
		return "client_error"
	case OutcomeNoReply:
		return "no_reply"
	case OutcomeDidntNeed:
		return "didnt_need"
	case OutcomeValidateErr:
		return "validate_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome accepts the names returned by String.
func ParseOutcome(s string) (Outcome, error) {
	switch normalizeName(s) {
	case "init":
		return OutcomeInit, nil
	case "success":
		return OutcomeSuccess, nil
	case "couldnt_send":
		return OutcomeCouldntSend, nil
	case "client_error":
		return OutcomeClientError, nil
	case "no_reply":
		return OutcomeNoReply, nil
	case "didnt_need":
		return OutcomeDidntNeed, nil
	case "validate_error":
		return OutcomeValidateErr, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// ValidateState is the validator's decision about a successful attempt.
// It is only meaningful once the attempt is over with OutcomeSuccess.
type ValidateState int

const (
	ValidateStateInit    ValidateState = 0
	ValidateStateValid   ValidateState = 1
	ValidateStateInvalid ValidateState = 2
	ValidateStateNoCheck ValidateState = 3
)

func (v ValidateState) String() string {
	switch v {
	case ValidateStateInit:
		return "init"
	case ValidateStateValid:
		return "valid"
	case ValidateStateInvalid:
		return "invalid"
	case ValidateStateNoCheck:
		return "no_check"
	default:
		return fmt.Sprintf("validate_state(%d)", int(v))
	}
}

// ParseValidateState accepts the names returned by String.
func ParseValidateState(s string) (ValidateState, error) {
	switch normalizeName(s) {
	case "init", "":
		return ValidateStateInit, nil
	case "valid":
		return ValidateStateValid, nil
	case "invalid":
		return ValidateStateInvalid, nil
	case "no_check":
		return ValidateStateNoCheck, nil
	}
	return 0, fmt.Errorf("unknown validate state %q", s)
}

// Attempt is one execution attempt of one chunk on one host.
//
// Timestamps are unix seconds; zero means the value was never recorded.
type Attempt struct {
	ID            int64
	ChunkID       int64
	HostID        int64
	ServerState   ServerState
	Outcome       Outcome
	ValidateState ValidateState
	SentAt        int64
	ReceivedAt    int64
	ExitStatus    int
	Stderr        string
}

// Chunk is an independently schedulable unit of work (a BOINC workunit).
//
// Metadata is the raw, unparsed blob; see package batchmeta.
type Chunk struct {
	ID           int64
	Name         string
	Batch        int64
	CreatedAt    int64
	NeedValidate bool
	Metadata     string
	Attempts     []Attempt
}

// Host is a worker as reported by the record store.
//
// Attempts only need ServerState populated; the relational backend fetches
// nothing else for hosts.
type Host struct {
	ID       int64
	Venue    string
	Misc     string
	LastSeen int64
	Attempts []Attempt
}

// WorkerLabel is the operator-facing worker class.
type WorkerLabel string

const (
	LabelEdge   WorkerLabel = "edge"
	LabelOnPrem WorkerLabel = "on_prem"
	LabelCloud  WorkerLabel = "cloud"
)

// WorkerLabels lists the accepted labels in display order.
var WorkerLabels = []WorkerLabel{LabelEdge, LabelOnPrem, LabelCloud}

// ParseWorkerLabel trims s and reports whether it names a known label.
// Matching is exact after trimming; "Edge" is not a label.
func ParseWorkerLabel(s string) (WorkerLabel, bool) {
	v := WorkerLabel(strings.TrimSpace(s))
	for _, l := range WorkerLabels {
		if v == l {
			return l, true
		}
	}
	return "", false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
