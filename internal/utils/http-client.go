package utils

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	BearerToken    string
	Headers        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}

// RetryPolicy decides which requests are retried and how long to wait
// between attempts. It is shared read-only by every worker.
type RetryPolicy struct {
	MaxAttempts          int
	BackoffFactor        time.Duration
	RetryableStatusCodes []int
	RetryableMethods     []string
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          4,
		BackoffFactor:        time.Second,
		RetryableStatusCodes: slices.Clone(defaultRetryableStatusCodes),
		RetryableMethods:     []string{http.MethodHead, http.MethodGet},
	}
}

// Backoff is the wait after the given failed attempt (1-based):
// BackoffFactor * 2^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BackoffFactor * time.Duration(1<<uint(attempt-1))
}

func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p RetryPolicy) RetriesMethod(method string) bool {
	return slices.Contains(p.RetryableMethods, method)
}

func (p RetryPolicy) RetriesStatus(code int) bool {
	return slices.Contains(p.RetryableStatusCodes, code)
}

// HTTPClient wraps a tuned http.Client with default headers and the retry
// policy used for size probes and range requests.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewHTTPClient(cfg HTTPClientConfig, policy RetryPolicy) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd)
			})
		}
	}
	// Timeout bounds connecting and waiting for headers, never the body.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
		MaxConnsPerHost:       0,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Warn().Str("op", "utils/http-client").Err(err).Msg("invalid proxy URL, proceeding without proxy")
		} else {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	var rt http.RoundTripper = transport
	if cfg.BearerToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &HTTPClient{
		client: &http.Client{Transport: rt},
		config: cfg,
		policy: policy,
		sleep:  sleepContext,
	}
}

// Do sends a single request with the configured headers and no retries.
func (d *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}

// Head probes the remote size with a HEAD request.
func (d *HTTPClient) Head(ctx context.Context, link string) (*ProbeResult, error) {
	resp, err := d.doWithRetry(ctx, http.MethodHead, link, nil)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return NewProbeResult(resp.StatusCode, resp.Header), nil
}

// GetRange requests r and returns the unread response as a RangeStream.
// Status validation beyond "2xx" is left to the caller.
func (d *HTTPClient) GetRange(ctx context.Context, link string, r ByteRange) (*RangeStream, error) {
	header := http.Header{}
	header.Set("Range", r.Header())
	header.Set("Connection", "keep-alive")
	resp, err := d.doWithRetry(ctx, http.MethodGet, link, header)
	if err != nil {
		return nil, err
	}
	return &RangeStream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (d *HTTPClient) doWithRetry(ctx context.Context, method, link string, header http.Header) (*http.Response, error) {
	maxAttempts := d.policy.attempts()
	canRetry := d.policy.RetriesMethod(method)
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, link, nil)
		if err != nil {
			return nil, &FetchError{Kind: TransportError, Method: method, URL: link, Attempts: attempt, Err: err}
		}
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := d.Do(req)
		if err != nil {
			if !canRetry || attempt >= maxAttempts || !isTransient(ctx, err) {
				return nil, &FetchError{Kind: TransportError, Method: method, URL: link, Attempts: attempt, Err: err}
			}
			log.Debug().Str("op", "utils/http-client").Err(err).Str("method", method).Int("attempt", attempt).Msg("transport failure, retrying")
		} else {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			discardBody(resp)
			if !canRetry || attempt >= maxAttempts || !d.policy.RetriesStatus(resp.StatusCode) {
				return nil, &FetchError{Kind: HTTPError, Method: method, URL: link, StatusCode: resp.StatusCode, Attempts: attempt}
			}
			log.Debug().Str("op", "utils/http-client").Int("status", resp.StatusCode).Str("method", method).Int("attempt", attempt).Msg("retryable status, retrying")
		}
		if err := d.sleep(ctx, d.policy.Backoff(attempt)); err != nil {
			return nil, &FetchError{Kind: TransportError, Method: method, URL: link, Attempts: attempt, Err: err}
		}
	}
}

// isTransient reports whether a transport error is worth another attempt:
// timeouts, resets, refused connections, truncated responses and temporary
// DNS failures. Everything else, certificate errors included, is final.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, target := range []error{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		io.ErrUnexpectedEOF,
		io.EOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func discardBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
