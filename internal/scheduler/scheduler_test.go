package scheduler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/rangefetch/internal/output"
	"github.com/tanq16/rangefetch/internal/utils"
)

type fakeDownloader struct {
	mu       sync.Mutex
	seen     []string
	buildErr error
}

func (f *fakeDownloader) ValidateJob(job *utils.Job) error {
	if job.URL == "" {
		return errors.New("empty URL")
	}
	return nil
}

func (f *fakeDownloader) BuildJob(ctx context.Context, job *utils.Job) error {
	return f.buildErr
}

func (f *fakeDownloader) Download(ctx context.Context, job *utils.Job) error {
	f.mu.Lock()
	f.seen = append(f.seen, job.ID)
	f.mu.Unlock()
	return nil
}

func TestRunCollectsFailures(t *testing.T) {
	good := &fakeDownloader{}
	broken := &fakeDownloader{buildErr: errors.New("no size")}
	registry := Registry{"good": good, "broken": broken}
	jobs := []utils.Job{
		{JobType: "good", URL: "a"},
		{JobType: "good", URL: "b"},
		{JobType: "broken", URL: "c"},
		{JobType: "nope", URL: "d"},
		{JobType: "good", URL: ""},
	}

	var buf bytes.Buffer
	mgr := output.NewManagerWithWriter(&buf, false)
	err := RunWith(context.Background(), registry, jobs, 3, mgr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no size")
	assert.Contains(t, err.Error(), "unknown job type: nope")
	assert.Contains(t, err.Error(), "empty URL")

	assert.Len(t, good.seen, 2)
	for _, job := range jobs {
		assert.NotEmpty(t, job.ID)
	}
	assert.Len(t, mgr.Errors(), 3)
	assert.Contains(t, buf.String(), "Completed 2 of 5")
}

func TestRunHTTPJob(t *testing.T) {
	data := bytes.Repeat([]byte("rangefetch"), 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	output1 := filepath.Join(t.TempDir(), "out.bin")
	jobs := []utils.Job{{
		JobType:          "http",
		URL:              server.URL + "/file",
		OutputPath:       output1,
		Connections:      4,
		HTTPClientConfig: utils.HTTPClientConfig{Timeout: 10 * time.Second},
		RetryPolicy:      utils.DefaultRetryPolicy(),
	}}
	var buf bytes.Buffer
	require.NoError(t, Run(context.Background(), jobs, 2, output.NewManagerWithWriter(&buf, false)))

	got, err := os.ReadFile(output1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Contains(t, buf.String(), "Completed 1 of 1")
}
