package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-key token bucket. The event POST endpoint keys it
// by client IP so a misbehaving pusher cannot flood the state machine.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	tokensPerMin int
	maxTokens    int
	ticker       *time.Ticker
	stop         chan struct{}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// New creates a limiter refilling at tokensPerMin, capped at maxTokens
// (defaults to tokensPerMin when zero).
func New(tokensPerMin, maxTokens int) *Limiter {
	if maxTokens == 0 {
		maxTokens = tokensPerMin
	}
	l := &Limiter{
		buckets:      make(map[string]*bucket),
		tokensPerMin: tokensPerMin,
		maxTokens:    maxTokens,
		ticker:       time.NewTicker(5 * time.Minute),
		stop:         make(chan struct{}),
	}
	go l.reap()
	return l
}

// reap drops buckets idle for more than ten minutes.
func (l *Limiter) reap() {
	for {
		select {
		case <-l.ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, b := range l.buckets {
				if now.Sub(b.lastSeen) > 10*time.Minute {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			l.ticker.Stop()
			return
		}
	}
}

// Stop terminates the reaper goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow reports whether one more request from key fits in its bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.maxTokens), lastSeen: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastSeen).Minutes()
	b.tokens += elapsed * float64(l.tokensPerMin)
	if b.tokens > float64(l.maxTokens) {
		b.tokens = float64(l.maxTokens)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
