package webhook

import (
	"time"

	"github.com/recruitflow/relay/internal/store"
)

// maxBackoff bounds the wait between attempts so a full retry sequence stays
// within a predictable delivery latency envelope.
const maxBackoff = 30 * time.Second

// Backoff returns the wait before retrying after the given zero-based
// attempt number.
//
//	exponential: min(2^attempt * 1s, 30s)
//	linear:      min((attempt+1) * 2s, 30s)
func Backoff(strategy string, attempt int) time.Duration {
	var d time.Duration
	switch strategy {
	case store.BackoffLinear:
		d = time.Duration(attempt+1) * 2 * time.Second
	default:
		if attempt > 5 {
			// 2^6s already exceeds the cap; avoid shifting far.
			return maxBackoff
		}
		d = time.Duration(1<<uint(attempt)) * time.Second
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
