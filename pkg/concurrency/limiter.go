package concurrency

import (
	"sync/atomic"
)

// Metrics tracks limiter usage
type Metrics struct {
	TotalAcquired  int64
	TotalReleased  int64
	TotalDeclined  int64
	PeakConcurrent int64
}

// Limiter is a counting semaphore shared by every parallel node of a run.
//
// Nested parallel nodes must not block on a slot held by an ancestor, so
// callers use TryAcquire and fall back to running inline.
type Limiter struct {
	sem     chan struct{}
	active  atomic.Int64
	metrics Metrics
}

// NewLimiter creates a limiter allowing maxConcurrent holders
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent)}
}

// Capacity returns the maximum number of holders
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// TryAcquire takes a slot if one is free and reports whether it did
func (l *Limiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		l.acquired()
		return true
	default:
		atomic.AddInt64(&l.metrics.TotalDeclined, 1)
		return false
	}
}

// Release releases a slot back to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		atomic.AddInt64(&l.metrics.TotalReleased, 1)
	default:
		// Release without Acquire
	}
}

// CurrentActive returns the current number of holders
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// GetMetrics returns a copy of the current metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:  atomic.LoadInt64(&l.metrics.TotalAcquired),
		TotalReleased:  atomic.LoadInt64(&l.metrics.TotalReleased),
		TotalDeclined:  atomic.LoadInt64(&l.metrics.TotalDeclined),
		PeakConcurrent: atomic.LoadInt64(&l.metrics.PeakConcurrent),
	}
}

func (l *Limiter) acquired() {
	atomic.AddInt64(&l.metrics.TotalAcquired, 1)
	l.updatePeak(l.active.Add(1))
}

// updatePeak updates the peak concurrent count if current is higher
func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.metrics.PeakConcurrent)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&l.metrics.PeakConcurrent, peak, current) {
			return
		}
	}
}
