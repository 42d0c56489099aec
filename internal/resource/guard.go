// Package resource implements the CPU/memory/goroutine admission guard
// that gates new WebSocket connections and Kafka consumption, grounded
// in ws/internal/shared/limits.ResourceGuard: a periodically-refreshed
// snapshot of current resource usage checked against static config
// thresholds, rather than an adaptive controller.
package resource

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/callhub/signalhub/internal/config"
)

// Guard tracks current CPU and memory usage and decides whether new
// connections or goroutines should be admitted. All current-usage
// fields are read by ShouldAcceptConnection on the hot path, so they
// are updated via atomic.Value/atomic.Int64 rather than a mutex.
type Guard struct {
	cfg    *config.Config
	logger zerolog.Logger

	goroutines *GoroutineLimiter

	currentCPU    atomic.Value // float64
	currentMemory atomic.Int64
	currentConns  *atomic.Int64
}

// New constructs a Guard. currentConns is a pointer to the caller's
// live connection counter, so the guard always reads the same value
// the rest of the server updates on connect/disconnect.
func New(cfg *config.Config, logger zerolog.Logger, currentConns *atomic.Int64) *Guard {
	g := &Guard{
		cfg:          cfg,
		logger:       logger,
		goroutines:   NewGoroutineLimiter(cfg.MaxGoroutines),
		currentConns: currentConns,
	}
	g.currentCPU.Store(0.0)

	logger.Info().
		Float64("cpu_limit", cfg.CPULimit).
		Int64("memory_limit_bytes", cfg.MemoryLimitBytes).
		Float64("cpu_reject_threshold", cfg.CPURejectThreshold).
		Int("max_goroutines", cfg.MaxGoroutines).
		Msg("resource guard initialized")

	return g
}

// ShouldAcceptConnection checks, in order: the hard connection limit,
// the CPU emergency brake, the memory emergency brake, and the
// goroutine limit. It never blocks.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	conns := g.currentConns.Load()
	if conns >= int64(g.cfg.MaxConnections) {
		return false, "at max connections"
	}

	cpuPct := g.currentCPU.Load().(float64)
	if cpuPct > g.cfg.CPURejectThreshold {
		return false, "CPU overload"
	}

	memBytes := g.currentMemory.Load()
	if g.cfg.MemoryLimitBytes > 0 && memBytes > g.cfg.MemoryLimitBytes {
		return false, "memory limit exceeded"
	}

	if goros := runtime.NumGoroutine(); goros > g.cfg.MaxGoroutines {
		return false, "goroutine limit exceeded"
	}

	return true, ""
}

// ShouldPauseKafka reports whether Kafka consumption should pause to
// let CPU usage recover (spec.md's events stream backpressure).
func (g *Guard) ShouldPauseKafka() bool {
	return g.currentCPU.Load().(float64) > g.cfg.CPUPauseThreshold
}

// AcquireGoroutine reserves a slot under the goroutine ceiling. The
// caller must call ReleaseGoroutine when the goroutine it is guarding
// completes.
func (g *Guard) AcquireGoroutine() bool {
	ok := g.goroutines.Acquire()
	if !ok {
		g.logger.Warn().
			Int("current", g.goroutines.Current()).
			Int("max", g.goroutines.Max()).
			Msg("goroutine limit reached")
	}
	return ok
}

// ReleaseGoroutine frees a slot acquired via AcquireGoroutine.
func (g *Guard) ReleaseGoroutine() {
	g.goroutines.Release()
}

// Refresh samples current CPU and memory usage. Call it periodically
// (StartMonitoring does this on an interval) to keep ShouldAcceptConnection's
// view of the world current.
func (g *Guard) Refresh(ctx context.Context) {
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		g.currentCPU.Store(pct[0])
	} else if err != nil {
		g.logger.Warn().Err(err).Msg("resource guard: cpu sample failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		g.currentMemory.Store(int64(vm.Used))
	} else {
		g.logger.Warn().Err(err).Msg("resource guard: memory sample failed")
	}

	g.logger.Debug().
		Float64("cpu_percent", g.currentCPU.Load().(float64)).
		Int64("memory_bytes", g.currentMemory.Load()).
		Int64("connections", g.currentConns.Load()).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("resource state updated")
}

// StartMonitoring runs Refresh on interval until ctx is cancelled.
func (g *Guard) StartMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.Refresh(ctx)
			case <-ctx.Done():
				g.logger.Info().Msg("resource guard monitoring stopped")
				return
			}
		}
	}()
}

// Stats returns a snapshot for the health/metrics handlers.
func (g *Guard) Stats() map[string]any {
	return map[string]any{
		"cpu_percent":    g.currentCPU.Load().(float64),
		"memory_bytes":   g.currentMemory.Load(),
		"connections":    g.currentConns.Load(),
		"goroutines":     runtime.NumGoroutine(),
		"max_goroutines": g.cfg.MaxGoroutines,
	}
}
