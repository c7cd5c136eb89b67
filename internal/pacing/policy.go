// Package pacing spaces sends out so a campaign looks like a human at the
// keyboard rather than a script. It tracks a sliding one-hour send window
// and hands out randomized delays. It never touches the DOM.
package pacing

import (
	"math/rand"
	"sync"
	"time"
)

const window = time.Hour

type Options struct {
	HourlyLimit     int
	LongPauseChance float64
	LongPauseMin    time.Duration
	LongPauseMax    time.Duration
}

// Policy is safe for concurrent use. The zero value is not usable; construct
// with New.
type Policy struct {
	mu        sync.Mutex
	opts      Options
	sentTimes []time.Time
	now       func() time.Time
}

func New(opts Options) *Policy {
	if opts.HourlyLimit <= 0 {
		opts.HourlyLimit = 30
	}
	return &Policy{
		opts: opts,
		now:  time.Now,
	}
}

// RandomDelay returns a duration drawn uniformly from [min, max]. A max at
// or below min collapses to min.
func (p *Policy) RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// CheckRateLimit reports whether another send fits in the current one-hour
// window. It prunes expired entries as a side effect.
func (p *Policy) CheckRateLimit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune()
	return len(p.sentTimes) < p.opts.HourlyLimit
}

// RecordSent registers a completed send in the window.
func (p *Policy) RecordSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune()
	p.sentTimes = append(p.sentTimes, p.now())
}

// SentLastHour returns the number of sends inside the window.
func (p *Policy) SentLastHour() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune()
	return len(p.sentTimes)
}

// LongPause occasionally returns a long break duration (zero otherwise).
// It returns the duration instead of sleeping so callers can wait
// interruptibly.
func (p *Policy) LongPause() time.Duration {
	if p.opts.LongPauseChance <= 0 || rand.Float64() >= p.opts.LongPauseChance {
		return 0
	}
	min, max := p.opts.LongPauseMin, p.opts.LongPauseMax
	if min <= 0 {
		min = 30 * time.Second
	}
	if max <= min {
		max = min + 90*time.Second
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// prune drops entries older than the window. Callers hold the mutex.
func (p *Policy) prune() {
	cutoff := p.now().Add(-window)
	valid := p.sentTimes[:0]
	for _, t := range p.sentTimes {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	p.sentTimes = valid
}
