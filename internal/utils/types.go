package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/tanq16/rangefetch/internal/progress"
)

type Downloader interface {
	ValidateJob(job *Job) error
	BuildJob(ctx context.Context, job *Job) error
	Download(ctx context.Context, job *Job) error
}

// Job is one entry handed to the scheduler: a single resource to fetch.
type Job struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	Connections      int
	PoolSize         int
	BufferSize       int
	ReportInterval   time.Duration
	ProgressFunc     func(progress.Update)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
	RetryPolicy      RetryPolicy
}

// ByteRange is an inclusive span of byte offsets.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

type DownloadConfig struct {
	URL         string
	OutputPath  string
	Connections int
}

type DownloadChunk struct {
	ID         int
	Range      ByteRange
	Downloaded int64
	Completed  bool
	LastError  error
	StartTime  time.Time
	FinishTime time.Time
}

// DownloadJob is the state of one range-partitioned download. It is built
// after the size probe and only the chunk owned by a worker is mutated by it.
type DownloadJob struct {
	Config    DownloadConfig
	FileSize  int64
	Chunks    []DownloadChunk
	StartTime time.Time
}

func (j *DownloadJob) Downloaded() int64 {
	var total int64
	for _, c := range j.Chunks {
		total += c.Downloaded
	}
	return total
}

type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	URL        string `yaml:"link"`
}
