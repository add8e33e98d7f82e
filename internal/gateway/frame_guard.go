package gateway

import (
	"sync"
	"time"
)

// Frame flood guard defaults: a connection may burst frameBurst frames and
// refills at frameBurst per frameRefill. This sits below the per-user chat
// window and only trips on raw floods.
const (
	frameBurst  = 20
	frameRefill = time.Second
)

// frameGuard is a token bucket applied to raw frames of one connection
// before they are decoded.
type frameGuard struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newFrameGuard(capacity int, interval time.Duration, now time.Time) *frameGuard {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &frameGuard{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      float64(capacity) / interval.Seconds(),
		lastCheck: now,
	}
}

func (g *frameGuard) allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := now.Sub(g.lastCheck).Seconds()
	g.lastCheck = now

	if elapsed > 0 {
		g.tokens += elapsed * g.rate
		if g.tokens > g.capacity {
			g.tokens = g.capacity
		}
	}

	if g.tokens < 1 {
		return false
	}

	g.tokens--
	return true
}
