package chippool

import (
	"fmt"
	"log/slog"
	"sync"
)

// Strategy obtains and releases whole memory acquisitions on behalf of a
// Pool. It is the pool's only external boundary.
//
// Acquire must return exactly size bytes of read-write memory whose base
// address is page aligned. The bytes may be zeroed or dirty; the pool
// writes its own bookkeeping before use. The memory must stay valid and at
// the same address until it is passed back to Release; the pool keeps a
// reference to every acquisition it holds, so heap-backed implementations
// need no extra pinning.
//
// An Acquire failure is not interpreted by the pool: the error reaches the
// caller of Pool.Allocate unchanged, with no retry or fallback.
type Strategy interface {
	Acquire(size int) ([]byte, error) // obtain one acquisition of exactly size bytes
	Release(buf []byte) error         // return an acquisition obtained from Acquire
}

// OSStrategyConfig configures the operating system strategy.
type OSStrategyConfig struct {
	// FreeThreshold is the number of released acquisitions the strategy may
	// cache for reuse before it starts returning memory to the operating
	// system. A value of 0 disables caching and releases immediately.
	FreeThreshold int
}

func DefaultOSStrategyConfig() OSStrategyConfig {
	return OSStrategyConfig{
		FreeThreshold: 64, // 256KB of cached pages
	}
}

// OSStrategy acquires memory straight from the operating system's
// virtual-memory facility, keeping chunk memory outside the Go heap so it
// adds nothing to the garbage collector's scan load. Released acquisitions
// are cached up to a threshold to damp acquire/release churn.
//
// Unlike a Pool, an OSStrategy is safe for concurrent use; one default
// instance is shared by every pool that was not given its own strategy.
type OSStrategy struct {
	mu   sync.Mutex
	free [][]byte

	// freeThreshold is the number of cached acquisitions the strategy can
	// hold before half of the cache is returned to the operating system.
	freeThreshold int
}

func NewOSStrategy(config OSStrategyConfig) *OSStrategy {
	return &OSStrategy{freeThreshold: config.FreeThreshold}
}

// Acquire returns a cached acquisition when one of the requested size is
// available and maps fresh memory otherwise.
func (s *OSStrategy) Acquire(size int) ([]byte, error) {
	s.mu.Lock()
	for i := len(s.free) - 1; i >= 0; i-- {
		if len(s.free[i]) != size {
			continue
		}
		buf := s.free[i]
		s.free = append(s.free[:i], s.free[i+1:]...)
		s.mu.Unlock()
		return buf, nil
	}
	s.mu.Unlock()

	buf, err := osAcquire(size)
	if err != nil {
		return nil, fmt.Errorf("chippool: cannot acquire %d bytes from the operating system: %w", size, err)
	}
	return buf, nil
}

// Release returns an acquisition to the cache, unmapping the surplus once
// the cache grows past the threshold. Surplus unmap failures are logged
// rather than returned: they belong to acquisitions released on earlier
// calls, so the current caller has nothing to act on.
func (s *OSStrategy) Release(buf []byte) error {
	if buf == nil {
		return nil
	}
	if s.freeThreshold <= 0 {
		return s.release(buf)
	}

	s.mu.Lock()
	s.free = append(s.free, buf)
	var surplus [][]byte
	s.free, surplus = trimFree(s.free, s.freeThreshold)
	s.mu.Unlock()

	// Unmap outside the lock to avoid blocking other pools.
	for _, b := range surplus {
		s.release(b)
	}
	return nil
}

// release hands an acquisition back to the operating system.
func (s *OSStrategy) release(buf []byte) error {
	if err := osRelease(buf); err != nil {
		slog.Error("failed to release acquisition", "bytes", len(buf), "error", err)
		return fmt.Errorf("chippool: cannot release %d bytes to the operating system: %w", len(buf), err)
	}
	return nil
}

// numFree returns the number of cached acquisitions.
// It is primarily intended as a helper in tests.
func (s *OSStrategy) numFree() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}

// trimFree trims the free cache when it exceeds the threshold. It returns
// the kept cache and the surplus to release. Half of the cache is released
// at once to prevent thrashing around the threshold.
func trimFree(free [][]byte, threshold int) (kept, surplus [][]byte) {
	if threshold > 0 && len(free) > threshold {
		n := len(free) / 2
		return free[n:], free[:n]
	}
	return free, nil
}
