package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangefetch/internal/utils"
)

var ErrInvalidS3URL = errors.New("invalid S3 URL format")

type s3Object struct {
	Key  string
	Size int64
}

// Fetcher serves byte ranges of S3 objects. Links are s3://bucket/key or
// bucket/key.
type Fetcher struct {
	client *s3.Client
	policy utils.RetryPolicy
}

func NewFetcher(client *s3.Client, policy utils.RetryPolicy) *Fetcher {
	return &Fetcher{client: client, policy: policy}
}

// getS3Client loads the shared AWS config for profile. The SDK retryer
// gets the same attempt budget as plain HTTP downloads.
func getS3Client(ctx context.Context, profile string, policy utils.RetryPolicy) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if policy.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(policy.MaxAttempts))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (f *Fetcher) Head(ctx context.Context, link string) (*utils.ProbeResult, error) {
	bucket, key, err := ParseS3URL(link)
	if err != nil {
		return nil, err
	}
	headObj, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, f.fetchError(http.MethodHead, link, err)
	}
	size := int64(-1)
	if headObj.ContentLength != nil {
		size = *headObj.ContentLength
	}
	probe := objectProbe(key, size)
	if headObj.AcceptRanges != nil {
		probe.Header.Set("Accept-Ranges", *headObj.AcceptRanges)
	}
	return probe, nil
}

// GetRange issues a ranged GetObject. The stream reports 206 whenever S3
// answered with a Content-Range.
func (f *Fetcher) GetRange(ctx context.Context, link string, r utils.ByteRange) (*utils.RangeStream, error) {
	bucket, key, err := ParseS3URL(link)
	if err != nil {
		return nil, err
	}
	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(r.Header()),
	})
	if err != nil {
		return nil, f.fetchError(http.MethodGet, link, err)
	}
	stream := &utils.RangeStream{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       result.Body,
	}
	if result.ContentLength != nil {
		stream.Header.Set("Content-Length", strconv.FormatInt(*result.ContentLength, 10))
	}
	if result.ContentRange != nil {
		stream.StatusCode = http.StatusPartialContent
		stream.Header.Set("Content-Range", *result.ContentRange)
	}
	return stream, nil
}

// fetchError maps an SDK failure onto FetchError. The SDK has already
// spent its own retries by the time it returns.
func (f *Fetcher) fetchError(method, link string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		log.Debug().Str("op", "s3/helpers").Str("code", apiErr.ErrorCode()).Str("method", method).Msg("S3 request failed")
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		attempts := 1
		if f.policy.RetriesStatus(status) {
			attempts = max(f.policy.MaxAttempts, 1)
		}
		return &utils.FetchError{Kind: utils.HTTPError, Method: method, URL: link, StatusCode: status, Attempts: attempts, Err: err}
	}
	return &utils.FetchError{Kind: utils.TransportError, Method: method, URL: link, Attempts: max(f.policy.MaxAttempts, 1), Err: err}
}

// objectProbe describes an object whose size is already known from a HEAD
// or a listing. S3 always serves byte ranges.
func objectProbe(key string, size int64) *utils.ProbeResult {
	probe := &utils.ProbeResult{
		StatusCode:   http.StatusOK,
		Header:       http.Header{},
		Size:         size,
		AcceptRanges: true,
		FileName:     path.Base(key),
	}
	if size >= 0 {
		probe.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	return probe
}

func listS3Objects(ctx context.Context, client *s3.Client, bucket, prefix string) ([]s3Object, error) {
	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			// 0-byte "directory" markers
			if *obj.Size == 0 && strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, s3Object{Key: *obj.Key, Size: *obj.Size})
		}
	}
	return objects, nil
}

func ParseS3URL(link string) (string, string, error) {
	trimmed := strings.TrimPrefix(link, "s3://")
	bucket, key, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidS3URL, link)
	}
	return bucket, key, nil
}
