package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionLimiterConfig mirrors
// ws/internal/shared/limits.ConnectionRateLimiterConfig: per-IP and
// global token buckets for DoS protection on the /ws upgrade endpoint.
type ConnectionLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
}

func (c *ConnectionLimiterConfig) applyDefaults() {
	if c.IPBurst == 0 {
		c.IPBurst = 10
	}
	if c.IPRate == 0 {
		c.IPRate = 1.0
	}
	if c.IPTTL == 0 {
		c.IPTTL = 5 * time.Minute
	}
	if c.GlobalBurst == 0 {
		c.GlobalBurst = 300
	}
	if c.GlobalRate == 0 {
		c.GlobalRate = 50.0
	}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionLimiter rate-limits new WebSocket upgrade attempts.
type ConnectionLimiter struct {
	cfg ConnectionLimiterConfig

	mu  sync.Mutex
	ips map[string]*ipEntry

	global *rate.Limiter
}

// NewConnectionLimiter builds a limiter with the given configuration.
func NewConnectionLimiter(cfg ConnectionLimiterConfig) *ConnectionLimiter {
	cfg.applyDefaults()
	return &ConnectionLimiter{
		cfg:    cfg,
		ips:    make(map[string]*ipEntry),
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
	}
}

// Allow reports whether a new connection attempt from ip should be
// accepted, checking the global bucket first and then the per-IP bucket.
func (c *ConnectionLimiter) Allow(ip string) bool {
	if !c.global.Allow() {
		return false
	}

	c.mu.Lock()
	e, ok := c.ips[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rate.Limit(c.cfg.IPRate), c.cfg.IPBurst)}
		c.ips[ip] = e
	}
	e.lastAccess = time.Now()
	c.mu.Unlock()

	return e.limiter.Allow()
}

// Cleanup evicts IP entries idle for longer than IPTTL. cmd/hubd runs it
// on every call-sweep interval.
func (c *ConnectionLimiter) Cleanup(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for ip, e := range c.ips {
		if now.Sub(e.lastAccess) > c.cfg.IPTTL {
			delete(c.ips, ip)
			pruned++
		}
	}
	return pruned
}
