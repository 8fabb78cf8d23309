package status

import (
	"encoding/json"
	"strings"

	"github.com/3leaps/batchlens/pkg/record"
)

// WorkerState is a worker's current activity.
type WorkerState string

const (
	WorkerActive WorkerState = "active"
	WorkerIdle   WorkerState = "idle"
)

// ResolveWorkerState reports active when any attempt assigned to the worker
// is in progress.
func ResolveWorkerState(attempts []record.Attempt) WorkerState {
	for _, a := range attempts {
		if a.ServerState == record.ServerStateInProgress {
			return WorkerActive
		}
	}
	return WorkerIdle
}

// ResolveWorkerLabel picks a worker label.
//
// The operator-configured venue wins when it is a known label. Otherwise a
// "worker_label" key in the misc JSON object is used when valid. Malformed
// misc JSON is ignored.
func ResolveWorkerLabel(venue, misc string) (record.WorkerLabel, bool) {
	if l, ok := record.ParseWorkerLabel(venue); ok {
		return l, true
	}
	if strings.TrimSpace(misc) == "" {
		return "", false
	}

	var extra struct {
		WorkerLabel any `json:"worker_label"`
	}
	if err := json.Unmarshal([]byte(misc), &extra); err != nil {
		return "", false
	}
	s, ok := extra.WorkerLabel.(string)
	if !ok {
		return "", false
	}
	return record.ParseWorkerLabel(s)
}
