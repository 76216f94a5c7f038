package listing

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
)

// DefaultRetryAfter is assumed when a 429 carries no usable hint.
const DefaultRetryAfter = 30 * time.Second

// retryAfterFromHeaders reads Retry-After (seconds or HTTP date) and the
// Google rate-limit reset headers.
func retryAfterFromHeaders(headers http.Header, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(headerFirst(headers, "Retry-After", "X-Goog-Ratelimit-Reset-Requests", "X-Ratelimit-Reset-Requests"))
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func rateLimitErrorFromHeaders(headers http.Header, now time.Time, msg string) *errors.RateLimitError {
	retryAfter, ok := retryAfterFromHeaders(headers, now)
	if !ok {
		retryAfter = DefaultRetryAfter
	}
	return &errors.RateLimitError{
		RetryAfter: retryAfter,
		Until:      now.Add(retryAfter),
		Message:    msg,
	}
}

func headerFirst(headers http.Header, keys ...string) string {
	for _, k := range keys {
		if v := headers.Get(k); v != "" {
			return v
		}
	}
	return ""
}
