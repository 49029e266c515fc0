package utils

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
)

// ProbeResult is what a size probe learned about a remote resource.
// Size is -1 when the server did not report a usable length.
type ProbeResult struct {
	StatusCode   int
	Header       http.Header
	Size         int64
	AcceptRanges bool
	FileName     string
}

func NewProbeResult(statusCode int, header http.Header) *ProbeResult {
	probe := &ProbeResult{
		StatusCode:   statusCode,
		Header:       header,
		Size:         -1,
		AcceptRanges: header.Get("Accept-Ranges") == "bytes",
		FileName:     FileNameFromDisposition(header.Get("Content-Disposition")),
	}
	if cl := header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
			probe.Size = size
		}
	}
	return probe
}

// RangeStream is the response to a ranged GET. Its body can be walked once
// through Chunks and must be released with Close.
type RangeStream struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	consumed   bool
}

// Chunks yields the body in reads of at most size bytes. The yielded slice
// is reused between iterations. A read error is yielded once and ends the
// sequence; io.EOF ends it silently.
func (s *RangeStream) Chunks(size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if s.consumed {
			yield(nil, ErrStreamConsumed)
			return
		}
		s.consumed = true
		if size <= 0 {
			size = DefaultChunkReadSize
		}
		buffer := make([]byte, size)
		for {
			n, err := s.Body.Read(buffer)
			if n > 0 {
				if !yield(buffer[:n], nil) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, err)
				}
				return
			}
		}
	}
}

func (s *RangeStream) Close() error {
	if s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// ParseContentRange parses "bytes start-end/total"; total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	span, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %w", err)
		}
	}
	return start, end, total, nil
}
