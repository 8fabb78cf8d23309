// Package memory is the in-process prototype backend.
//
// It holds jobs, chunks, attempts and hosts behind a single mutex. Every
// operation takes the lock for its whole duration and returns deep copies, so
// callers never observe a half-inserted job or share slices with the store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/store"
)

// ErrUnknownChunk is returned when an attempt references a chunk the store
// does not hold.
var ErrUnknownChunk = errors.New("unknown chunk")

// Store is the in-memory backend. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	nextChunkID   int64
	nextAttemptID int64

	chunks map[int64]*record.Chunk
	jobs   map[string][]int64
	hosts  map[int64]*record.Host
}

var (
	_ store.Reader    = (*Store)(nil)
	_ store.JobWriter = (*Store)(nil)
	_ store.Pinger    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		chunks: make(map[int64]*record.Chunk),
		jobs:   make(map[string][]int64),
		hosts:  make(map[int64]*record.Host),
	}
}

// InsertJob registers chunks under jobID. The duplicate check and the insert
// happen in the same critical section. Chunk ids of zero are assigned by the
// store; attempts already on the chunks are kept and numbered.
func (s *Store) InsertJob(ctx context.Context, jobID string, chunks []record.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateJob, jobID)
	}
	for _, c := range chunks {
		if c.ID != 0 {
			if _, taken := s.chunks[c.ID]; taken {
				return fmt.Errorf("chunk id %d already exists", c.ID)
			}
		}
	}

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		c := cloneChunk(c)
		if c.ID == 0 {
			s.nextChunkID++
			for s.chunks[s.nextChunkID] != nil {
				s.nextChunkID++
			}
			c.ID = s.nextChunkID
		} else if c.ID > s.nextChunkID {
			s.nextChunkID = c.ID
		}
		for i := range c.Attempts {
			s.nextAttemptID++
			c.Attempts[i].ID = s.nextAttemptID
			c.Attempts[i].ChunkID = c.ID
		}
		s.chunks[c.ID] = &c
		ids = append(ids, c.ID)
	}
	s.jobs[jobID] = ids
	return nil
}

// AppendAttempt adds an attempt to the chunk at index within jobID, in
// submission order. It returns the stored attempt with its assigned id.
func (s *Store) AppendAttempt(ctx context.Context, jobID string, index int, a record.Attempt) (record.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return record.Attempt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok || index < 0 || index >= len(ids) {
		return record.Attempt{}, fmt.Errorf("%w: job %q index %d", ErrUnknownChunk, jobID, index)
	}
	c := s.chunks[ids[index]]

	s.nextAttemptID++
	a.ID = s.nextAttemptID
	a.ChunkID = c.ID
	c.Attempts = append(c.Attempts, a)
	return a, nil
}

// UpsertHost stores h, replacing any host with the same id. Attempts on h are
// ignored; host attempts are derived from chunk attempts.
func (s *Store) UpsertHost(ctx context.Context, h record.Host) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.ID <= 0 {
		return fmt.Errorf("host id must be positive, got %d", h.ID)
	}
	h.Attempts = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[h.ID] = &h
	return nil
}

// ChunkIDs returns the structural chunk ids of jobID in submission order.
func (s *Store) ChunkIDs(jobID string) ([]int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return nil, false
	}
	return append([]int64(nil), ids...), true
}

// ListChunks returns every chunk of up to limit jobs, newest job first.
// Jobs are held whole, so the window is counted in jobs and never cuts
// through one.
func (s *Store) ListChunks(ctx context.Context, limit int) ([]record.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type heldJob struct {
		ids       []int64
		createdAt int64
		lastID    int64
	}
	held := make([]heldJob, 0, len(s.jobs))
	total := 0
	for _, ids := range s.jobs {
		j := heldJob{ids: ids}
		for _, id := range ids {
			if c := s.chunks[id]; c.CreatedAt > j.createdAt {
				j.createdAt = c.CreatedAt
			}
			if id > j.lastID {
				j.lastID = id
			}
		}
		held = append(held, j)
		total += len(ids)
	}
	sort.Slice(held, func(i, j int) bool {
		if held[i].createdAt != held[j].createdAt {
			return held[i].createdAt > held[j].createdAt
		}
		return held[i].lastID > held[j].lastID
	})
	if limit > 0 && len(held) > limit {
		held = held[:limit]
	}

	out := make([]record.Chunk, 0, total)
	for _, j := range held {
		for _, id := range j.ids {
			out = append(out, cloneChunk(*s.chunks[id]))
		}
	}
	return out, nil
}

// JobChunks returns every chunk registered under jobID; limit does not cut a
// registered job. Ids that were never registered (batch keys, names of
// seeded workunits) fall back to the recent job window so the caller can
// regroup them.
func (s *Store) JobChunks(ctx context.Context, jobID string, limit int) ([]record.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	ids, ok := s.jobs[strings.TrimSpace(jobID)]
	if ok {
		out := make([]record.Chunk, 0, len(ids))
		for _, id := range ids {
			out = append(out, cloneChunk(*s.chunks[id]))
		}
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	return s.ListChunks(ctx, limit)
}

// ListHosts returns up to limit hosts, most recently seen first, each with
// the attempts assigned to it.
func (s *Store) ListHosts(ctx context.Context, limit int) ([]record.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*record.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastSeen != all[j].LastSeen {
			return all[i].LastSeen > all[j].LastSeen
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	byHost := make(map[int64][]record.Attempt, len(all))
	for _, h := range all {
		byHost[h.ID] = nil
	}
	for _, c := range s.chunks {
		for _, a := range c.Attempts {
			if _, ok := byHost[a.HostID]; ok {
				byHost[a.HostID] = append(byHost[a.HostID], a)
			}
		}
	}

	out := make([]record.Host, 0, len(all))
	for _, h := range all {
		host := *h
		host.Attempts = byHost[h.ID]
		out = append(out, host)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

func cloneChunk(c record.Chunk) record.Chunk {
	if c.Attempts != nil {
		c.Attempts = append([]record.Attempt(nil), c.Attempts...)
	}
	return c
}
