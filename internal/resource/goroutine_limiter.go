package resource

// GoroutineLimiter is a semaphore bounding concurrent goroutines spawned
// for per-connection work, grounded in
// ws/internal/shared/limits.GoroutineLimiter.
type GoroutineLimiter struct {
	sem chan struct{}
	max int
}

// NewGoroutineLimiter constructs a limiter allowing up to max concurrent
// holders. max <= 0 means unbounded.
func NewGoroutineLimiter(max int) *GoroutineLimiter {
	if max <= 0 {
		return &GoroutineLimiter{max: 0}
	}
	return &GoroutineLimiter{sem: make(chan struct{}, max), max: max}
}

// Acquire reserves a slot, returning false immediately if none are free.
func (gl *GoroutineLimiter) Acquire() bool {
	if gl.sem == nil {
		return true
	}
	select {
	case gl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot acquired via Acquire.
func (gl *GoroutineLimiter) Release() {
	if gl.sem == nil {
		return
	}
	select {
	case <-gl.sem:
	default:
	}
}

// Current reports the number of slots currently held.
func (gl *GoroutineLimiter) Current() int {
	return len(gl.sem)
}

// Max reports the configured ceiling, or 0 if unbounded.
func (gl *GoroutineLimiter) Max() int {
	return gl.max
}
