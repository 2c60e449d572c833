package transfer

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter applies a per-device byte-rate limit across that device's
// transfers. A zero or negative rate disables limiting.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateVal  rate.Limit
	burst    int
}

// NewLimiter creates a limiter with the given sustained rate (bytes/sec).
// The burst is pinned to ChunkSize so a full chunk always fits one wait.
func NewLimiter(bytesPerSec int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rateVal:  rate.Limit(bytesPerSec),
		burst:    ChunkSize,
	}
}

// Wait blocks until deviceID may move n more bytes, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, deviceID string, n int) error {
	if l == nil || l.rateVal <= 0 {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.limiters[deviceID]
	if !ok {
		lim = rate.NewLimiter(l.rateVal, l.burst)
		l.limiters[deviceID] = lim
	}
	l.mu.Unlock()
	return lim.WaitN(ctx, n)
}
