// Package clock abstracts time for services and tests.
//
// Services take a Clock instead of calling time.Now directly so that lease
// expiry, backoff, and timestamp behavior can be tested deterministically
// with a Fake.
package clock

import (
	"sync"
	"time"
)

// Clock provides the two time sources the core needs: a monotonic-friendly
// Now for measuring durations and timeouts, and UTCNow for persisted
// timestamps.
type Clock interface {
	Now() time.Time
	UTCNow() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system clock.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time    { return time.Now() }
func (realClock) UTCNow() time.Time { return time.Now().UTC() }

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake pinned at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// UTCNow returns the fake current time in UTC.
func (f *Fake) UTCNow() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.UTC()
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
