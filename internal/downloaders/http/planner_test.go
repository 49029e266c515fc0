package rangehttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/rangefetch/internal/utils"
)

func assertPartition(t *testing.T, ranges []utils.ByteRange, fileSize int64) {
	t.Helper()
	require.NotEmpty(t, ranges)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, fileSize-1, ranges[len(ranges)-1].End)
	var covered int64
	for i, r := range ranges {
		assert.LessOrEqual(t, r.Start, r.End, "range %d", i)
		if i > 0 {
			assert.Equal(t, ranges[i-1].End+1, r.Start, "gap or overlap before range %d", i)
		}
		covered += r.Len()
	}
	assert.Equal(t, fileSize, covered)
}

func TestPlanRangesThousandByEight(t *testing.T) {
	ranges, err := PlanRanges(1000, 8)
	require.NoError(t, err)
	require.Len(t, ranges, 8)
	assertPartition(t, ranges, 1000)
	assert.Equal(t, utils.ByteRange{Start: 0, End: 124}, ranges[0])
	assert.Equal(t, int64(999), ranges[7].End)
}

func TestPlanRangesUnevenRemainder(t *testing.T) {
	ranges, err := PlanRanges(1003, 4)
	require.NoError(t, err)
	require.Len(t, ranges, 4)
	assertPartition(t, ranges, 1003)
	assert.Equal(t, utils.ByteRange{Start: 750, End: 1002}, ranges[3])
}

func TestPlanRangesPartitionProperty(t *testing.T) {
	for _, fileSize := range []int64{1, 2, 7, 64, 999, 1000, 4097, 1 << 20} {
		for _, chunks := range []int{1, 2, 3, 8, 16, 100} {
			if int64(chunks) > fileSize {
				continue
			}
			ranges, err := PlanRanges(fileSize, chunks)
			require.NoError(t, err, "size=%d chunks=%d", fileSize, chunks)
			assert.Len(t, ranges, chunks)
			assertPartition(t, ranges, fileSize)
		}
	}
}

func TestPlanRangesSingleByteChunks(t *testing.T) {
	ranges, err := PlanRanges(5, 5)
	require.NoError(t, err)
	for i, r := range ranges {
		assert.Equal(t, utils.ByteRange{Start: int64(i), End: int64(i)}, r)
	}
}

func TestPlanRangesErrors(t *testing.T) {
	cases := []struct {
		size   int64
		chunks int
	}{
		{0, 1},
		{-10, 2},
		{10, 0},
		{10, -1},
		{5, 6},
	}
	for _, c := range cases {
		_, err := PlanRanges(c.size, c.chunks)
		var planErr *PlanningError
		require.ErrorAs(t, err, &planErr, "size=%d chunks=%d", c.size, c.chunks)
		assert.Equal(t, c.size, planErr.FileSize)
		assert.Equal(t, c.chunks, planErr.ChunkCount)
	}
}

func TestClampConnections(t *testing.T) {
	assert.Equal(t, 8, ClampConnections(8, 1000))
	assert.Equal(t, 3, ClampConnections(8, 3))
	assert.Equal(t, 1, ClampConnections(0, 1000))
	assert.Equal(t, 1, ClampConnections(-4, 1000))
}
