package utils

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestClient(policy RetryPolicy) (*HTTPClient, *recordedSleeps) {
	client := NewHTTPClient(HTTPClientConfig{Timeout: 5 * time.Second}, policy)
	rec := &recordedSleeps{}
	client.sleep = rec.sleep
	return client, rec
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{BackoffFactor: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, policy.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, policy.Backoff(3))
	assert.Equal(t, 100*time.Millisecond, policy.Backoff(0))
}

func TestGetRangeRetriesTransientStatus(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "bytes=0-4", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-4/11")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "hello")
	}))
	defer server.Close()

	client, rec := newTestClient(DefaultRetryPolicy())
	stream, err := client.GetRange(context.Background(), server.URL, ByteRange{Start: 0, End: 4})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, http.StatusPartialContent, stream.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
	require.Len(t, rec.waits, 2)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestGetRangeNotFoundFailsImmediately(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, rec := newTestClient(DefaultRetryPolicy())
	_, err := client.GetRange(context.Background(), server.URL, ByteRange{Start: 0, End: 9})
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, HTTPError, fetchErr.Kind)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, 1, fetchErr.Attempts)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, rec.waits)
}

func TestRetryExhaustion(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3
	client, rec := newTestClient(policy)
	_, err := client.GetRange(context.Background(), server.URL, ByteRange{Start: 0, End: 9})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, HTTPError, fetchErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, rec.waits, 2)
}

func TestMethodNotRetryable(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	policy := DefaultRetryPolicy()
	policy.RetryableMethods = []string{http.MethodHead}
	client, rec := newTestClient(policy)
	_, err := client.GetRange(context.Background(), server.URL, ByteRange{Start: 0, End: 9})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 1, fetchErr.Attempts)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, rec.waits)
}

func TestTransportFailureRetriedThenSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	link := server.URL
	server.Close()

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	client, rec := newTestClient(policy)
	_, err := client.Head(context.Background(), link)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, TransportError, fetchErr.Kind)
	assert.Equal(t, 2, fetchErr.Attempts)
	assert.Len(t, rec.waits, 1)
}

func TestCancelledContextIsNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client, _ := newTestClient(DefaultRetryPolicy())
	_, err := client.Head(ctx, server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHeadProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "custom", r.Header.Get("X-Test"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Length", "1024")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Disposition", `attachment; filename="data set.bin"`)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{
		BearerToken: "secret",
		Headers:     map[string]string{"X-Test": "custom"},
	}, DefaultRetryPolicy())
	probe, err := client.Head(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), probe.Size)
	assert.True(t, probe.AcceptRanges)
	assert.Equal(t, "data set.bin", probe.FileName)
}

func TestHeadWithoutLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := newTestClient(DefaultRetryPolicy())
	probe, err := client.Head(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), probe.Size)
}

func TestSlowBodyOutlivesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-59/60")
		w.Header().Set("Content-Length", "60")
		w.WriteHeader(http.StatusPartialContent)
		for range 6 {
			w.Write(bytes.Repeat([]byte("x"), 10))
			w.(http.Flusher).Flush()
			time.Sleep(100 * time.Millisecond)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{Timeout: 300 * time.Millisecond}, DefaultRetryPolicy())
	stream, err := client.GetRange(context.Background(), server.URL, ByteRange{Start: 0, End: 59})
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Len(t, body, 60)
}

func TestSlowHeadersTimeOutAndRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	client := NewHTTPClient(HTTPClientConfig{Timeout: 50 * time.Millisecond}, policy)
	rec := &recordedSleeps{}
	client.sleep = rec.sleep
	_, err := client.Head(context.Background(), server.URL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, TransportError, fetchErr.Kind)
	assert.Equal(t, 2, fetchErr.Attempts)
	assert.Len(t, rec.waits, 1)
}

func TestUntrustedCertificateIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer server.Close()

	client, rec := newTestClient(DefaultRetryPolicy())
	_, err := client.Head(context.Background(), server.URL)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, TransportError, fetchErr.Kind)
	assert.Equal(t, 1, fetchErr.Attempts)
	assert.Empty(t, rec.waits)
	assert.Equal(t, int32(0), attempts.Load())

	var certErr *tls.CertificateVerificationError
	assert.ErrorAs(t, err, &certErr)
}

func TestUnsupportedSchemeIsNotRetried(t *testing.T) {
	client, rec := newTestClient(DefaultRetryPolicy())
	_, err := client.Head(context.Background(), "gopher://example.com/file")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 1, fetchErr.Attempts)
	assert.Empty(t, rec.waits)
}

func TestIsTransient(t *testing.T) {
	ctx := context.Background()
	assert.True(t, isTransient(ctx, &net.DNSError{Err: "server misbehaving", IsTemporary: true}))
	assert.False(t, isTransient(ctx, &net.DNSError{Err: "no such host", IsNotFound: true}))
	assert.True(t, isTransient(ctx, &net.OpError{Op: "read", Err: syscall.ECONNRESET}))
	assert.True(t, isTransient(ctx, io.ErrUnexpectedEOF))
	assert.False(t, isTransient(ctx, x509.UnknownAuthorityError{}))
	assert.False(t, isTransient(ctx, errors.New("unsupported protocol scheme")))
}
