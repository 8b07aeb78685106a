package wheelhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedJSON is returned when a successful response body is not JSON.
var ErrMalformedJSON = errors.New("wheelhouse: response is not valid JSON")

// ErrPaginationLoop is returned when the API hands back a continuation it
// already served, or more pages than the configured maximum.
var ErrPaginationLoop = errors.New("wheelhouse: pagination did not terminate")

// ErrForeignLink is returned for a "next" link pointing outside the API's
// scheme and host. Credentials are never sent to such a link.
var ErrForeignLink = errors.New("wheelhouse: next link leaves the API host")

// HTTPError is a non-2xx response from the API.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string

	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("wheelhouse: GET %s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("wheelhouse: GET %s: %s: %s", e.URL, e.Status, e.Body)
}

// RetryAfter is the server-suggested wait, zero when none was sent.
func (e *HTTPError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Transient reports whether the status is worth retrying.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient classifies an error from a single request attempt. Rate
// limiting, server errors and connection-level failures are transient;
// other HTTP statuses, decoding errors and context cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var netErr net.Error
		// http.Client.Timeout surfaces as a net.Error wrapping DeadlineExceeded
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	if errors.Is(err, ErrMalformedJSON) || errors.Is(err, ErrPaginationLoop) || errors.Is(err, ErrForeignLink) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func parseRetryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
