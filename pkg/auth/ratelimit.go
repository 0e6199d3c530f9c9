package auth

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// FailureClass groups failure outcomes that are throttled together.
type FailureClass string

const (
	// ClassUnknownClient covers probing for client ids that do not exist.
	ClassUnknownClient FailureClass = "unknown_client"

	// ClassBadCredential covers guessing against credentials: wrong keys,
	// bad signatures, expired or disabled credentials.
	ClassBadCredential FailureClass = "bad_credential"
)

// ClassOf returns the failure class counted for outcome, or "" when the
// outcome is not held against the caller (success, backend faults).
func ClassOf(o Outcome) FailureClass {
	switch o {
	case OutcomeSuccess, OutcomeBackendFailure:
		return ""
	case OutcomeClientNotFound:
		return ClassUnknownClient
	default:
		return ClassBadCredential
	}
}

// FailureLimiter counts authentication failures per source and failure
// class in fixed one-minute windows. A source that reaches the limit for
// any class is blocked until its window rolls over.
type FailureLimiter struct {
	limits map[FailureClass]int
	clock  clock.Clock

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// maxTrackedSources bounds the counter map; stale windows are pruned once
// it is exceeded.
const maxTrackedSources = 100000

// NewFailureLimiter creates a limiter allowing limits[class] failures per
// minute. A class with a limit <= 0 is never blocked. A nil clk uses the
// wall clock.
func NewFailureLimiter(limits map[FailureClass]int, clk clock.Clock) *FailureLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &FailureLimiter{
		limits:   limits,
		clock:    clk,
		counters: make(map[string]*counter),
	}
}

// Blocked reports whether source has exhausted the budget of any class.
func (l *FailureLimiter) Blocked(source string) (FailureClass, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for class, limit := range l.limits {
		if limit <= 0 {
			continue
		}
		c, ok := l.counters[counterKey(source, class)]
		if !ok || now.Sub(c.windowAt) >= time.Minute {
			continue
		}
		if c.count >= limit {
			return class, true
		}
	}
	return "", false
}

// RecordFailure counts a failed resolution for source.
func (l *FailureLimiter) RecordFailure(source string, outcome Outcome) {
	class := ClassOf(outcome)
	if class == "" || l.limits[class] <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	key := counterKey(source, class)
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		if len(l.counters) >= maxTrackedSources {
			l.prune(now)
		}
		l.counters[key] = &counter{count: 1, windowAt: now}
		return
	}
	c.count++
}

// prune drops counters whose window has elapsed. Must be called with l.mu held.
func (l *FailureLimiter) prune(now time.Time) {
	for k, c := range l.counters {
		if now.Sub(c.windowAt) >= time.Minute {
			delete(l.counters, k)
		}
	}
}

func counterKey(source string, class FailureClass) string {
	return source + "|" + string(class)
}
