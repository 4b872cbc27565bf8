package generation

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/api/googleapi"
)

// RetryPolicy bounds retries on transient upstream faults. MaxAttempts counts
// all calls to one backend, so 2 means the original call plus one retry.
type RetryPolicy struct {
	MaxAttempts       int
	Backoff           time.Duration
	RetryableStatuses map[int]bool
}

// DefaultRetryPolicy allows exactly one delayed retry on rate limiting and
// server-side failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     time.Second,
		RetryableStatuses: map[int]bool{
			429: true,
			500: true,
			502: true,
			503: true,
			504: true,
		},
	}
}

// IsTransient reports whether err is worth retrying under the policy.
// Timeouts and retryable HTTP statuses qualify; everything else, including
// 4xx policy rejections and NoArtifactProducedError, is terminal.
func (p RetryPolicy) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return p.RetryableStatuses[apiErr.Code]
	}
	return false
}
