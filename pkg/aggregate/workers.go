package aggregate

import (
	"sort"
	"strconv"

	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/status"
)

// WorkerSummary is one row of the worker list. Label is null when the host
// carries no recognizable label.
type WorkerSummary struct {
	WorkerID string              `json:"worker_id"`
	Label    *record.WorkerLabel `json:"label"`
	State    status.WorkerState  `json:"state"`
	LastSeen int64               `json:"last_seen"`
}

// BuildWorkers resolves label and activity per host, sorted by numeric id.
func BuildWorkers(hosts []record.Host) []WorkerSummary {
	ordered := make([]record.Host, len(hosts))
	copy(ordered, hosts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := make([]WorkerSummary, 0, len(ordered))
	for _, h := range ordered {
		ws := WorkerSummary{
			WorkerID: strconv.FormatInt(h.ID, 10),
			State:    status.ResolveWorkerState(h.Attempts),
			LastSeen: h.LastSeen,
		}
		if label, ok := status.ResolveWorkerLabel(h.Venue, h.Misc); ok {
			ws.Label = &label
		}
		out = append(out, ws)
	}
	return out
}
