// Package store defines the execution-record backends the tracker reads from.
//
// A backend always implements Reader. Backends that accept submissions also
// implement JobWriter; callers detect it with a type assertion, the same way
// optional provider capabilities are detected elsewhere in this module.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/batchlens/pkg/record"
)

var (
	// ErrUnavailable is returned when the backend cannot be reached or a
	// query fails. It maps to HTTP 503 and the external-service exit code.
	ErrUnavailable = errors.New("execution record store unavailable")

	// ErrReadOnly is returned when a write is attempted against a backend
	// that does not accept submissions.
	ErrReadOnly = errors.New("execution record store is read-only")

	// ErrDuplicateJob is returned when a submission reuses an existing job id.
	ErrDuplicateJob = errors.New("job id already exists")
)

// Reader is the read side every backend provides.
//
// Limits are upper bounds on the number of chunk or host rows returned.
// Implementations clamp them to their own range.
type Reader interface {
	// ListChunks returns the most recently created chunks with attempts.
	ListChunks(ctx context.Context, limit int) ([]record.Chunk, error)

	// JobChunks returns the chunks that may belong to jobID. The result can
	// include chunks of other jobs; callers regroup before use.
	JobChunks(ctx context.Context, jobID string, limit int) ([]record.Chunk, error)

	// ListHosts returns the most recently seen hosts with their attempts.
	ListHosts(ctx context.Context, limit int) ([]record.Host, error)

	Close() error
}

// JobWriter is implemented by backends that accept new jobs.
type JobWriter interface {
	// InsertJob stores all chunks of jobID or none of them. It returns
	// ErrDuplicateJob when the id is already taken.
	InsertJob(ctx context.Context, jobID string, chunks []record.Chunk) error
}

// Pinger is implemented by backends with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// keeping the original cause in the message.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IsUnavailable reports whether err signals an unreachable backend.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ClampLimit bounds limit to [1, max].
func ClampLimit(limit, max int) int {
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}
