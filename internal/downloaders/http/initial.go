package rangehttp

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangefetch/internal/utils"
)

// HTTPDownloader runs http(s) jobs for the scheduler.
type HTTPDownloader struct{}

func (d *HTTPDownloader) ValidateJob(job *utils.Job) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("missing host in URL: %s", job.URL)
	}
	if job.Connections < 1 {
		job.Connections = utils.DefaultConnections
	}
	return nil
}

func (d *HTTPDownloader) BuildJob(ctx context.Context, job *utils.Job) error {
	job.HTTPClientConfig.HighThreadMode = job.Connections > utils.HighThreadModeCutoff
	client := utils.NewHTTPClient(job.HTTPClientConfig, job.RetryPolicy)

	probe, err := client.Head(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("error getting file info: %w", err)
	}
	if probe.Size <= 0 {
		return &SizeUnavailableError{URL: job.URL, Reported: probe.Size}
	}
	job.OutputPath, err = utils.ResolveOutputPath(job.OutputPath, probe.FileName, job.URL, probe.Size)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["fileSize"] = probe.Size
	job.Metadata["rangeSupported"] = probe.AcceptRanges
	job.Metadata["probe"] = probe
	log.Debug().Str("op", "rangehttp/initial").Str("output", job.OutputPath).Int64("size", probe.Size).Bool("ranges", probe.AcceptRanges).Msg("job built")
	return nil
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.Job) error {
	client := utils.NewHTTPClient(job.HTTPClientConfig, job.RetryPolicy)
	return RunJob(ctx, client, job)
}

// RunJob hands a built job to the orchestrator and records the outcome
// in its metadata. Any RangeFetcher can back it; a "probe" left in the
// metadata by BuildJob is reused instead of probing again.
func RunJob(ctx context.Context, fetcher RangeFetcher, job *utils.Job) error {
	started := time.Now()
	probe, _ := job.Metadata["probe"].(*utils.ProbeResult)
	result, err := Download(ctx, fetcher, utils.DownloadConfig{
		URL:         job.URL,
		OutputPath:  job.OutputPath,
		Connections: job.Connections,
	}, Options{
		PoolSize:       job.PoolSize,
		BufferSize:     job.BufferSize,
		ReportInterval: job.ReportInterval,
		OnProgress:     job.ProgressFunc,
		Probe:          probe,
	})
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["totalTime"] = time.Since(started).Seconds()
	if result != nil {
		job.Metadata["totalDownloaded"] = result.Downloaded()
		job.Metadata["ranges"] = len(result.Chunks)
	}
	return err
}
