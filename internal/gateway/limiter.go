package gateway

import (
	"math"
	"sync"
	"time"
)

// Limiter enforces a per-key request budget: at most requests calls in
// any trailing window. Each key keeps a log of its admitted request
// times, oldest first; rejected requests are not recorded.
type Limiter struct {
	requests int
	window   time.Duration

	mu   sync.Mutex
	logs map[string][]time.Time
	now  func() time.Time
}

// NewLimiter allows requests per window for each key.
func NewLimiter(requests int, window time.Duration) *Limiter {
	if requests < 1 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		requests: requests,
		window:   window,
		logs:     make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow records a request for key if the key has fewer than the limit
// in the trailing window. Otherwise it returns false and the time until
// the oldest logged request leaves the window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	log := expire(l.logs[key], now.Add(-l.window))
	if len(log) >= l.requests {
		l.logs[key] = log
		return false, log[0].Add(l.window).Sub(now)
	}
	l.logs[key] = append(log, now)
	return true, 0
}

// Prune drops keys with no request inside the window. Such a key would
// be admitted as if new, so dropping it changes nothing.
func (l *Limiter) Prune() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, log := range l.logs {
		if len(expire(log, cutoff)) == 0 {
			delete(l.logs, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}

// expire returns the suffix of log newer than cutoff.
func expire(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

// retryAfterSeconds rounds d up to whole seconds, minimum one, for the
// Retry-After header.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
