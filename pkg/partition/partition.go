// Package partition splits an index range into contiguous chunks.
package partition

import (
	"errors"
	"fmt"
	"math"

	"github.com/3leaps/batchlens/pkg/batchmeta"
)

// MaxChunks is the largest chunk count accepted by Split.
const MaxChunks = 100000

// ErrChunkCount is returned when the chunk count is outside 1..MaxChunks.
var ErrChunkCount = errors.New("chunk count out of range")

// ErrRangeSize is returned when [start, end] holds more than math.MaxInt64
// indices.
var ErrRangeSize = errors.New("range size overflows int64")

// Split divides the inclusive range [start, end] into n contiguous,
// non-overlapping ranges whose sizes differ by at most one. The first
// total%n ranges get the extra element.
//
// When the range is empty (end < start) every chunk gets {0, -1}. When n
// exceeds the range size the trailing chunks are empty ranges positioned at
// the cursor ({c, c-1}), so the union of all ranges is still [start, end].
func Split(start, end int64, n int) ([]batchmeta.Range, error) {
	if n < 1 || n > MaxChunks {
		return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrChunkCount, n, MaxChunks)
	}

	if end >= start {
		if diff := end - start; diff < 0 || diff == math.MaxInt64 {
			return nil, fmt.Errorf("%w: [%d, %d]", ErrRangeSize, start, end)
		}
	}

	out := make([]batchmeta.Range, n)

	total := end - start + 1
	if total <= 0 {
		for i := range out {
			out[i] = batchmeta.Range{Start: 0, End: -1}
		}
		return out, nil
	}

	base := total / int64(n)
	extra := total % int64(n)
	cursor := start
	for i := range out {
		size := base
		if int64(i) < extra {
			size++
		}
		out[i] = batchmeta.Range{Start: cursor, End: cursor + size - 1}
		cursor += size
	}
	return out, nil
}
