package utils

import (
	"fmt"
	"net/http"
)

type FetchErrorKind int

const (
	// HTTPError means the server answered with a status that was not
	// retryable, or kept answering with a retryable one until the budget ran out.
	HTTPError FetchErrorKind = iota + 1
	// TransportError means no usable response was received at all.
	TransportError
)

func (k FetchErrorKind) String() string {
	switch k {
	case HTTPError:
		return "http error"
	case TransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

// FetchError is returned by a RangeFetcher once a single request has
// exhausted its retry budget or hit a non-retryable status.
type FetchError struct {
	Kind       FetchErrorKind
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == HTTPError && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d after %d attempt(s): %v", e.Method, e.URL, e.StatusCode, e.Attempts, e.Err)
	case e.Kind == HTTPError:
		return fmt.Sprintf("%s %s: status %d (%s) after %d attempt(s)", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Attempts)
	default:
		return fmt.Sprintf("%s %s: %v after %d attempt(s)", e.Method, e.URL, e.Err, e.Attempts)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
