package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	rangehttp "github.com/tanq16/rangefetch/internal/downloaders/http"
	"github.com/tanq16/rangefetch/internal/downloaders/s3"
	"github.com/tanq16/rangefetch/internal/output"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
)

// Registry maps job types to their downloaders.
type Registry map[string]utils.Downloader

func DefaultRegistry() Registry {
	return Registry{
		"http": &rangehttp.HTTPDownloader{},
		"s3":   &s3.S3Downloader{},
	}
}

// Run downloads jobs with numWorkers concurrent jobs using the default
// registry. Every failure is reported to outputMgr and the joined errors
// are returned once all jobs are done.
func Run(ctx context.Context, jobs []utils.Job, numWorkers int, outputMgr *output.Manager) error {
	return RunWith(ctx, DefaultRegistry(), jobs, numWorkers, outputMgr)
}

func RunWith(ctx context.Context, registry Registry, jobs []utils.Job, numWorkers int, outputMgr *output.Manager) error {
	numWorkers = max(1, min(numWorkers, len(jobs)))
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	jobCh := make(chan *utils.Job, len(jobs))
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.NewString()
		}
		jobCh <- &jobs[i]
	}
	close(jobCh)

	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := processJob(ctx, registry, job, outputMgr); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func processJob(ctx context.Context, registry Registry, job *utils.Job, outputMgr *output.Manager) error {
	label := job.OutputPath
	if label == "" {
		label = job.URL
	}
	funcID := outputMgr.Register(label)
	logger := utils.GetLogger("scheduler").With().Str("job", job.ID).Str("type", job.JobType).Logger()

	fail := func(stage string, err error) error {
		err = fmt.Errorf("%s failed for %s: %w", stage, job.URL, err)
		logger.Debug().Err(err).Msg("job failed")
		outputMgr.ReportError(funcID, err)
		outputMgr.SetMessage(funcID, fmt.Sprintf("Failed %s", label))
		return err
	}

	downloader, exists := registry[job.JobType]
	if !exists {
		return fail("lookup", fmt.Errorf("unknown job type: %s", job.JobType))
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}

	outputMgr.SetMessage(funcID, fmt.Sprintf("Validating %s job", job.JobType))
	if err := downloader.ValidateJob(job); err != nil {
		return fail("validation", err)
	}
	outputMgr.SetMessage(funcID, fmt.Sprintf("Building %s job", job.JobType))
	if err := downloader.BuildJob(ctx, job); err != nil {
		return fail("build", err)
	}

	label = job.OutputPath
	outputMgr.SetMessage(funcID, fmt.Sprintf("Downloading %s", label))
	job.ProgressFunc = func(u progress.Update) {
		outputMgr.UpdateProgress(funcID, u)
	}
	if err := downloader.Download(ctx, job); err != nil {
		return fail("download", err)
	}

	size, _ := job.Metadata["size"].(int64)
	if size == 0 {
		size, _ = job.Metadata["fileSize"].(int64)
	}
	outputMgr.Complete(funcID, fmt.Sprintf("Completed %s (%s)", label, utils.FormatBytes(uint64(max(size, 0)))))
	log.Debug().Str("op", "scheduler/scheduler").Str("job", job.ID).Msg("job complete")
	return nil
}
