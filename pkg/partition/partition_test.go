package partition

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchlens/pkg/batchmeta"
)

func TestSplit_Example(t *testing.T) {
	got, err := Split(0, 9, 3)
	require.NoError(t, err)
	assert.Equal(t, []batchmeta.Range{{Start: 0, End: 3}, {Start: 4, End: 6}, {Start: 7, End: 9}}, got)
}

func TestSplit_EmptyRange(t *testing.T) {
	got, err := Split(5, 4, 3)
	require.NoError(t, err)
	for _, r := range got {
		assert.Equal(t, batchmeta.Range{Start: 0, End: -1}, r)
	}

	got, err = Split(10, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []batchmeta.Range{{Start: 0, End: -1}}, got)
}

func TestSplit_MoreChunksThanIndexes(t *testing.T) {
	got, err := Split(0, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []batchmeta.Range{
		{Start: 0, End: 0},
		{Start: 1, End: 1},
		{Start: 2, End: 1},
		{Start: 2, End: 1},
	}, got)
}

func TestSplit_ChunkCountBounds(t *testing.T) {
	for _, n := range []int{0, -1, MaxChunks + 1} {
		_, err := Split(0, 10, n)
		require.ErrorIs(t, err, ErrChunkCount)
	}

	got, err := Split(0, MaxChunks-1, MaxChunks)
	require.NoError(t, err)
	assert.Len(t, got, MaxChunks)
}

func TestSplit_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		start := rng.Int63n(2000) - 1000
		end := start + rng.Int63n(3000) - 5
		n := 1 + rng.Intn(300)

		got, err := Split(start, end, n)
		require.NoError(t, err)
		require.Len(t, got, n)

		total := end - start + 1
		if total <= 0 {
			continue
		}
		base := total / int64(n)
		extra := total % int64(n)

		cursor := start
		bigger := int64(0)
		for idx, r := range got {
			assert.Equal(t, cursor, r.Start, "chunk %d must start where the previous ended", idx)
			size := r.Size()
			assert.True(t, size == base || size == base+1, "chunk %d has size %d, base %d", idx, size, base)
			if size == base+1 {
				bigger++
			}
			cursor = r.Start + size
		}
		assert.Equal(t, end+1, cursor, "union must reconstruct [start,end]")
		assert.Equal(t, extra, bigger)
	}
}

func TestSplit_RangeSizeOverflow(t *testing.T) {
	for _, tc := range []struct{ start, end int64 }{
		{0, math.MaxInt64},
		{math.MinInt64, 0},
		{math.MinInt64, math.MaxInt64},
		{-1, math.MaxInt64 - 1},
	} {
		_, err := Split(tc.start, tc.end, 2)
		assert.ErrorIs(t, err, ErrRangeSize, "[%d, %d]", tc.start, tc.end)
	}

	got, err := Split(1, math.MaxInt64, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got[0].Start)
	assert.Equal(t, got[0].End+1, got[1].Start)
	assert.Equal(t, int64(math.MaxInt64), got[1].End)
}
