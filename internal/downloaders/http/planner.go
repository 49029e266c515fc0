package rangehttp

import (
	"fmt"

	"github.com/tanq16/rangefetch/internal/utils"
)

// PlanningError reports a file size / chunk count pair that cannot be
// partitioned into non-empty ranges.
type PlanningError struct {
	FileSize   int64
	ChunkCount int
	Reason     string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("cannot plan %d byte(s) into %d range(s): %s", e.FileSize, e.ChunkCount, e.Reason)
}

// PlanRanges splits [0, fileSize-1] into chunkCount contiguous ranges of
// fileSize/chunkCount bytes. The last range absorbs the remainder.
func PlanRanges(fileSize int64, chunkCount int) ([]utils.ByteRange, error) {
	switch {
	case fileSize <= 0:
		return nil, &PlanningError{FileSize: fileSize, ChunkCount: chunkCount, Reason: "file size must be positive"}
	case chunkCount <= 0:
		return nil, &PlanningError{FileSize: fileSize, ChunkCount: chunkCount, Reason: "chunk count must be positive"}
	case int64(chunkCount) > fileSize:
		return nil, &PlanningError{FileSize: fileSize, ChunkCount: chunkCount, Reason: "chunk count exceeds file size"}
	}
	step := fileSize / int64(chunkCount)
	ranges := make([]utils.ByteRange, chunkCount)
	for i := range ranges {
		start := int64(i) * step
		ranges[i] = utils.ByteRange{Start: start, End: start + step - 1}
	}
	ranges[chunkCount-1].End = fileSize - 1
	return ranges, nil
}

// ClampConnections bounds a requested connection count to [1, fileSize].
func ClampConnections(connections int, fileSize int64) int {
	if connections < 1 {
		connections = 1
	}
	if fileSize > 0 && int64(connections) > fileSize {
		return int(fileSize)
	}
	return connections
}
