package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
)

// RangeFetcher is the network side of a range-partitioned download.
// utils.HTTPClient and the S3 fetcher both implement it.
type RangeFetcher interface {
	Head(ctx context.Context, link string) (*utils.ProbeResult, error)
	GetRange(ctx context.Context, link string, r utils.ByteRange) (*utils.RangeStream, error)
}

type DownloadErrorKind int

const (
	BadStatus DownloadErrorKind = iota + 1
	WriteFailure
	FetchFailure
	RangeUnsupported
	ShortBody
)

func (k DownloadErrorKind) String() string {
	switch k {
	case BadStatus:
		return "bad status"
	case WriteFailure:
		return "write failure"
	case FetchFailure:
		return "fetch failure"
	case RangeUnsupported:
		return "range unsupported"
	case ShortBody:
		return "short body"
	default:
		return "unknown"
	}
}

// DownloadError is the outcome of one failed range. Written counts the
// bytes that reached the output file before the failure.
type DownloadError struct {
	Kind       DownloadErrorKind
	Range      utils.ByteRange
	StatusCode int
	Written    int64
	Err        error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("range %s: %s", e.Range, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// FetchAndWrite downloads r and writes it at its own offset in out,
// reading at most bufSize bytes at a time. Every write is reported to agg.
// Nothing is written outside r, and bytes written before a failure stay.
func FetchAndWrite(ctx context.Context, fetcher RangeFetcher, link string, out io.WriterAt, r utils.ByteRange, agg *progress.Aggregator, bufSize int) (int64, error) {
	if bufSize <= 0 {
		bufSize = utils.DefaultChunkReadSize
	}
	stream, err := fetcher.GetRange(ctx, link, r)
	if err != nil {
		var fetchErr *utils.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Kind == utils.HTTPError {
			return 0, &DownloadError{Kind: BadStatus, Range: r, StatusCode: fetchErr.StatusCode, Err: err}
		}
		return 0, &DownloadError{Kind: FetchFailure, Range: r, Err: err}
	}
	defer stream.Close()
	if err := checkRangeResponse(stream, r); err != nil {
		return 0, err
	}

	var written int64
	remaining := r.Len()
	for chunk, err := range stream.Chunks(bufSize) {
		if err != nil {
			return written, &DownloadError{Kind: FetchFailure, Range: r, StatusCode: stream.StatusCode, Written: written, Err: err}
		}
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := out.WriteAt(chunk, r.Start+written)
		written += int64(n)
		if agg != nil {
			agg.Add(int64(n))
		}
		if err != nil {
			return written, &DownloadError{Kind: WriteFailure, Range: r, StatusCode: stream.StatusCode, Written: written, Err: err}
		}
		remaining -= int64(n)
		if remaining == 0 {
			break
		}
	}
	if remaining > 0 {
		return written, &DownloadError{
			Kind:       ShortBody,
			Range:      r,
			StatusCode: stream.StatusCode,
			Written:    written,
			Err:        fmt.Errorf("expected %d bytes, got %d", r.Len(), written),
		}
	}
	log.Debug().Str("op", "rangehttp/worker").Str("range", r.String()).Int64("bytes", written).Msg("range complete")
	return written, nil
}

// checkRangeResponse accepts a 206 whose Content-Range matches r, or a
// plain 200 when r is the whole resource.
func checkRangeResponse(stream *utils.RangeStream, r utils.ByteRange) error {
	switch stream.StatusCode {
	case http.StatusPartialContent:
		contentRange := stream.Header.Get("Content-Range")
		if contentRange == "" {
			return &DownloadError{Kind: RangeUnsupported, Range: r, StatusCode: stream.StatusCode, Err: fmt.Errorf("%w: missing Content-Range header", utils.ErrRangeRequestsNotSupported)}
		}
		start, end, _, err := utils.ParseContentRange(contentRange)
		if err != nil {
			return &DownloadError{Kind: RangeUnsupported, Range: r, StatusCode: stream.StatusCode, Err: err}
		}
		if start != r.Start || end != r.End {
			return &DownloadError{Kind: RangeUnsupported, Range: r, StatusCode: stream.StatusCode, Err: fmt.Errorf("%w: server sent %d-%d", utils.ErrRangeRequestsNotSupported, start, end)}
		}
		return nil
	case http.StatusOK:
		length, err := strconv.ParseInt(stream.Header.Get("Content-Length"), 10, 64)
		if r.Start == 0 && err == nil && length == r.Len() {
			return nil
		}
		return &DownloadError{Kind: RangeUnsupported, Range: r, StatusCode: stream.StatusCode, Err: utils.ErrRangeRequestsNotSupported}
	default:
		return &DownloadError{Kind: BadStatus, Range: r, StatusCode: stream.StatusCode}
	}
}
