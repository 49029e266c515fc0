package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	rangehttp "github.com/tanq16/rangefetch/internal/downloaders/http"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
)

// S3Downloader runs s3 jobs. Client is optional; without it a client is
// built from the shared AWS config and the job's "profile" metadata.
type S3Downloader struct {
	Client *s3.Client
}

func (d *S3Downloader) ValidateJob(job *utils.Job) error {
	bucket, key, err := ParseS3URL(job.URL)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	if job.Connections < 1 {
		job.Connections = utils.DefaultConnections
	}
	job.Metadata["bucket"] = bucket
	job.Metadata["key"] = key
	log.Debug().Str("op", "s3/initial").Msgf("job validated for s3://%s/%s", bucket, key)
	return nil
}

func (d *S3Downloader) client(ctx context.Context, job *utils.Job) (*s3.Client, error) {
	if d.Client != nil {
		return d.Client, nil
	}
	profile, _ := job.Metadata["profile"].(string)
	return getS3Client(ctx, profile, job.RetryPolicy)
}

func (d *S3Downloader) BuildJob(ctx context.Context, job *utils.Job) error {
	bucket, _ := job.Metadata["bucket"].(string)
	key, _ := job.Metadata["key"].(string)
	client, err := d.client(ctx, job)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %v", err)
	}

	probe, headErr := NewFetcher(client, job.RetryPolicy).Head(ctx, job.URL)
	if headErr == nil {
		if probe.Size <= 0 {
			return &rangehttp.SizeUnavailableError{URL: job.URL, Reported: probe.Size}
		}
		job.Metadata["fileType"] = "file"
		job.Metadata["size"] = probe.Size
		job.Metadata["probe"] = probe
		job.OutputPath, err = utils.ResolveOutputPath(job.OutputPath, probe.FileName, job.URL, probe.Size)
		return err
	}

	// Not an object, so treat key as a folder; "dir" must not match "dir2/".
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
		job.Metadata["key"] = key
	}
	objects, err := listS3Objects(ctx, client, bucket, key)
	if err != nil || len(objects) == 0 {
		return fmt.Errorf("error getting S3 object info: %w", headErr)
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	job.Metadata["fileType"] = "folder"
	job.Metadata["objects"] = objects
	job.Metadata["size"] = total
	if job.OutputPath == "" {
		job.OutputPath = filepath.Base(strings.TrimSuffix(key, "/"))
		if job.OutputPath == "" || job.OutputPath == "." {
			job.OutputPath = bucket
		}
	}
	if info, err := os.Stat(job.OutputPath); err == nil && info.IsDir() {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	log.Debug().Str("op", "s3/initial").Int("objects", len(objects)).Int64("size", total).Msg("folder job built")
	return nil
}

func (d *S3Downloader) Download(ctx context.Context, job *utils.Job) error {
	client, err := d.client(ctx, job)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %v", err)
	}
	fetcher := NewFetcher(client, job.RetryPolicy)
	if job.Metadata["fileType"] != "folder" {
		return rangehttp.RunJob(ctx, fetcher, job)
	}
	return d.downloadFolder(ctx, fetcher, job)
}

// downloadFolder fetches every listed object in turn, each one range
// partitioned, and keeps going past failed objects. Empty objects are
// created directly since there is nothing to partition.
func (d *S3Downloader) downloadFolder(ctx context.Context, fetcher *Fetcher, job *utils.Job) error {
	bucket, _ := job.Metadata["bucket"].(string)
	prefix, _ := job.Metadata["key"].(string)
	objects, _ := job.Metadata["objects"].([]s3Object)
	total, _ := job.Metadata["size"].(int64)

	var done int64
	var errs []error
	for _, obj := range objects {
		relPath := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		child := *job
		child.URL = fmt.Sprintf("s3://%s/%s", bucket, obj.Key)
		child.OutputPath = filepath.Join(job.OutputPath, relPath)
		if obj.Size == 0 {
			if err := writeEmptyFile(child.OutputPath); err != nil {
				errs = append(errs, fmt.Errorf("error downloading %s: %w", obj.Key, err))
			}
			continue
		}
		child.Metadata = map[string]any{"probe": objectProbe(obj.Key, obj.Size)}
		offset := done
		child.ProgressFunc = func(u progress.Update) {
			if job.ProgressFunc == nil {
				return
			}
			completed := offset + u.Completed
			job.ProgressFunc(progress.Update{
				Completed: completed,
				Total:     total,
				Fraction:  float64(completed) / float64(max(total, 1)),
				Speed:     u.Speed,
				At:        u.At,
			})
		}
		if err := rangehttp.RunJob(ctx, fetcher, &child); err != nil {
			errs = append(errs, fmt.Errorf("error downloading %s: %w", obj.Key, err))
		}
		done += obj.Size
	}
	return errors.Join(errs...)
}

func writeEmptyFile(name string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	return os.WriteFile(name, nil, 0644)
}
