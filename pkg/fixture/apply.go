package fixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/store"
	"github.com/3leaps/batchlens/pkg/store/memory"
	"github.com/3leaps/batchlens/pkg/tracker"
)

// Result counts what Apply added.
type Result struct {
	Hosts    int
	Jobs     int
	Skipped  int
	Attempts int
}

// Apply submits the fixture's jobs through svc and records hosts and
// attempts directly in mem. svc must be backed by mem. Jobs that already
// exist are skipped along with their attempts, so applying twice is a no-op.
func Apply(ctx context.Context, f *File, svc *tracker.Service, mem *memory.Store) (Result, error) {
	var res Result

	for _, h := range f.Hosts {
		if err := mem.UpsertHost(ctx, record.Host{ID: h.ID, Venue: h.Venue, Misc: h.Misc, LastSeen: h.LastSeen}); err != nil {
			return res, fmt.Errorf("seed host %d: %w", h.ID, err)
		}
		res.Hosts++
	}

	for _, j := range f.Jobs {
		_, err := svc.CreateJob(ctx, tracker.JobSpec{
			JobID:             j.JobID,
			InputURI:          j.InputURI,
			OutputURI:         j.OutputURI,
			ContainerImage:    j.ContainerImage,
			WorkerLabel:       j.WorkerLabel,
			NumChunks:         j.NumChunks,
			ChunkRange:        j.ChunkRange,
			RequireValidation: j.RequireValidation,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateJob) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("seed job %s: %w", j.JobID, err)
		}
		res.Jobs++

		for _, a := range j.Attempts {
			rec, err := a.Record()
			if err != nil {
				return res, fmt.Errorf("seed job %s: %w", j.JobID, err)
			}
			if _, err := mem.AppendAttempt(ctx, j.JobID, a.Chunk, rec); err != nil {
				return res, fmt.Errorf("seed job %s: %w", j.JobID, err)
			}
			res.Attempts++
		}
	}
	return res, nil
}
