package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFetch is the root of every external fetch failure.
	ErrFetch = errors.New("external fetch failed")
	// ErrNotFound means the catalog reported the item missing.
	ErrNotFound = fmt.Errorf("%w: item not found", ErrFetch)
	// ErrRateLimited means the catalog asked us to slow down.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrFetch)
	// ErrUnavailable means the catalog could not be reached or answered 5xx.
	ErrUnavailable = fmt.Errorf("%w: catalog unavailable", ErrFetch)
)

// IsTransient reports whether err should be retried under the item backoff
// schedule. Every fetch failure and timeout qualifies; the retry deadline
// decides when it becomes permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrFetch) || errors.Is(err, context.DeadlineExceeded)
}
