package rangehttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/rangefetch/internal/utils"
)

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*31 + i/7) % 251)
	}
	return data
}

// newRangeServer serves data with full Range support. fail, when set, can
// answer a request itself by returning true.
func newRangeServer(t *testing.T, data []byte, fail func(w http.ResponseWriter, r *http.Request) bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func fastRetryClient() *utils.HTTPClient {
	return utils.NewHTTPClient(utils.HTTPClientConfig{Timeout: 10 * time.Second}, utils.RetryPolicy{
		MaxAttempts:          2,
		BackoffFactor:        time.Millisecond,
		RetryableStatusCodes: []int{http.StatusInternalServerError, http.StatusServiceUnavailable},
		RetryableMethods:     []string{http.MethodHead, http.MethodGet},
	})
}

type stubFetcher struct {
	probe *utils.ProbeResult
	err   error
	get   func(r utils.ByteRange) (*utils.RangeStream, error)
}

func (s *stubFetcher) Head(ctx context.Context, link string) (*utils.ProbeResult, error) {
	return s.probe, s.err
}

func (s *stubFetcher) GetRange(ctx context.Context, link string, r utils.ByteRange) (*utils.RangeStream, error) {
	return s.get(r)
}

func partialStream(r utils.ByteRange, total int, body []byte) *utils.RangeStream {
	header := http.Header{}
	header.Set("Content-Range", "bytes "+r.String()+"/"+strconv.Itoa(total))
	return &utils.RangeStream{
		StatusCode: http.StatusPartialContent,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// memoryFile is an io.WriterAt that refuses writes outside its size.
type memoryFile struct {
	mu      sync.Mutex
	data    []byte
	failAt  int // fail the n-th write (1-based), 0 never
	writes  int
	highest int64
}

var errDiskFull = errors.New("no space left on device")

func (m *memoryFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failAt > 0 && m.writes >= m.failAt {
		return 0, errDiskFull
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, errors.New("write outside file")
	}
	copy(m.data[off:], p)
	m.highest = max(m.highest, off+int64(len(p))-1)
	return len(p), nil
}
