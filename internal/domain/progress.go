package domain

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// ProgressTracker holds the per-job progress state: the last byte count and
// timestamp for speed computation, and the emission limiter. One tracker per
// worker; the owning worker is the only mutator.
type ProgressTracker struct {
	limiter   *rate.Limiter
	lastBytes int64
	lastTick  time.Time
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Speed returns the instantaneous throughput in KiB/s given the cumulative
// byte count at time now. The wall-clock delta is floored at 1ms so a burst
// of callbacks cannot divide by zero.
func (t *ProgressTracker) Speed(current int64, now time.Time) float64 {
	if t.lastTick.IsZero() {
		t.lastBytes = current
		t.lastTick = now
		return 0
	}

	dt := now.Sub(t.lastTick).Seconds()
	if dt < 0.001 {
		dt = 0.001
	}
	speed := float64(current-t.lastBytes) / 1024 / dt
	t.lastBytes = current
	t.lastTick = now

	if speed < 0 {
		return 0
	}
	return round1(speed)
}

// ShouldEmit enforces the >=1s spacing between progress events for a job.
// The final 100% emission always passes.
func (t *ProgressTracker) ShouldEmit(progress float64) bool {
	if progress >= 100 {
		return true
	}
	return t.limiter.Allow()
}

// Percent computes a one-decimal completion percentage. Zero total yields
// zero: the extractor has not reported a size yet.
func Percent(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(current) / float64(total) * 100)
}

// Remaining estimates seconds left at the given KiB/s speed, or nil when the
// speed is zero or the total is unknown.
func Remaining(current, total int64, speedKiB float64) *float64 {
	if speedKiB <= 0 || total <= 0 || current > total {
		return nil
	}
	rem := float64(total-current) / (speedKiB * 1024)
	return &rem
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
