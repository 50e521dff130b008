package crypto

import (
	"sync"
	"time"
)

// TimeProvider abstracts the wall clock used for tls-wrap replay timestamps.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// FixedTimeProvider returns a settable instant, for deterministic wire output.
type FixedTimeProvider struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedTimeProvider creates a FixedTimeProvider initialized to t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{t: t}
}

// Now returns the configured instant.
func (f *FixedTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the instant forward by d.
func (f *FixedTimeProvider) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// UnixTimestamp32 returns the provider's time as the 32-bit unix timestamp
// carried in control packet replay fields.
func UnixTimestamp32(tp TimeProvider) uint32 {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	ts, err := SafeInt64ToUint32(tp.Now().Unix())
	if err != nil {
		return 0
	}
	return ts
}
