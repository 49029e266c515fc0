package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Options tunes one orchestrated download. Zero values pick the defaults.
type Options struct {
	PoolSize       int // concurrent range workers, defaults to the range count
	BufferSize     int
	ReportInterval time.Duration
	OnProgress     func(progress.Update)
	Probe          *utils.ProbeResult // skips the HEAD request when already known
}

type SizeUnavailableError struct {
	URL      string
	Reported int64
}

func (e *SizeUnavailableError) Error() string {
	return fmt.Sprintf("size of %s is unavailable (reported %d)", e.URL, e.Reported)
}

// RangeErrors collects every failed range of a download.
type RangeErrors []*DownloadError

func (e RangeErrors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d range(s) failed: %s", len(e), strings.Join(parts, "; "))
}

func (e RangeErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// Download probes the size of cfg.URL, preallocates cfg.OutputPath and
// fetches every planned range through a bounded pool. A failed range never
// stops its siblings; all failures come back together as RangeErrors and
// the returned job always holds the per-range outcome.
func Download(ctx context.Context, fetcher RangeFetcher, cfg utils.DownloadConfig, opts Options) (*utils.DownloadJob, error) {
	probe := opts.Probe
	if probe == nil {
		var err error
		if probe, err = fetcher.Head(ctx, cfg.URL); err != nil {
			return nil, fmt.Errorf("error probing size: %w", err)
		}
	}
	if probe.Size <= 0 {
		return nil, &SizeUnavailableError{URL: cfg.URL, Reported: probe.Size}
	}
	if !probe.AcceptRanges {
		log.Debug().Str("op", "rangehttp/orchestrator").Str("url", cfg.URL).Msg("server did not advertise byte ranges, trying anyway")
	}

	requested := cfg.Connections
	cfg.Connections = ClampConnections(cfg.Connections, probe.Size)
	if cfg.Connections != requested {
		log.Debug().Str("op", "rangehttp/orchestrator").Int("requested", requested).Int("connections", cfg.Connections).Msg("connections clamped to file size")
	}
	ranges, err := PlanRanges(probe.Size, cfg.Connections)
	if err != nil {
		return nil, err
	}

	job := &utils.DownloadJob{
		Config:    cfg,
		FileSize:  probe.Size,
		Chunks:    make([]utils.DownloadChunk, len(ranges)),
		StartTime: time.Now(),
	}
	for i, r := range ranges {
		job.Chunks[i] = utils.DownloadChunk{ID: i, Range: r}
	}

	file, err := preallocate(cfg.OutputPath, probe.Size)
	if err != nil {
		return job, err
	}
	defer file.Close()

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = len(ranges)
	}
	log.Debug().Str("op", "rangehttp/orchestrator").Int64("size", probe.Size).Int("ranges", len(ranges)).Int("pool", poolSize).Msg("starting download")

	agg := progress.NewAggregator(probe.Size)
	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		agg.Report(reportCtx, probe.Size, opts.ReportInterval, opts.OnProgress)
	}()

	var g errgroup.Group
	g.SetLimit(poolSize)
	for i := range job.Chunks {
		chunk := &job.Chunks[i]
		g.Go(func() error {
			chunk.StartTime = time.Now()
			n, err := FetchAndWrite(ctx, fetcher, cfg.URL, file, chunk.Range, agg, opts.BufferSize)
			chunk.Downloaded = n
			chunk.FinishTime = time.Now()
			if err != nil {
				chunk.LastError = err
				log.Debug().Str("op", "rangehttp/orchestrator").Int("chunk", chunk.ID).Err(err).Msg("range failed")
				return nil
			}
			chunk.Completed = true
			return nil
		})
	}
	g.Wait()
	stopReport()
	<-reportDone

	syncErr := file.Sync()

	var failures RangeErrors
	for _, chunk := range job.Chunks {
		if chunk.LastError == nil {
			continue
		}
		var dlErr *DownloadError
		if errors.As(chunk.LastError, &dlErr) {
			failures = append(failures, dlErr)
		} else {
			failures = append(failures, &DownloadError{Kind: FetchFailure, Range: chunk.Range, Written: chunk.Downloaded, Err: chunk.LastError})
		}
	}
	if len(failures) > 0 {
		return job, failures
	}
	if syncErr != nil {
		return job, fmt.Errorf("error syncing output file: %w", syncErr)
	}
	return job, nil
}

// preallocate creates or truncates path and sizes it to exactly size bytes
// so every worker can write its window independently.
func preallocate(path string, size int64) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating output directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %w", err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("error preallocating output file: %w", err)
	}
	return file, nil
}
