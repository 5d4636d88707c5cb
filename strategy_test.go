// White box testing of the operating system strategy.

package chippool

import (
	"testing"
	"unsafe"
)

func TestOSStrategyAcquire(t *testing.T) {
	s := NewOSStrategy(OSStrategyConfig{FreeThreshold: 4})
	buf, err := s.Acquire(pageSize)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	t.Cleanup(func() { s.release(buf) })

	if len(buf) != pageSize || cap(buf) != pageSize {
		t.Errorf("expected exactly %d bytes, got len %d cap %d", pageSize, len(buf), cap(buf))
	}
	if addr := uintptr(unsafe.Pointer(&buf[0])); addr%pageSize != 0 {
		t.Errorf("expected a page aligned acquisition, got base %#x", addr)
	}

	// The whole span must be writable.
	for i := range buf {
		buf[i] = 0xA5
	}
	if buf[0] != 0xA5 || buf[pageSize-1] != 0xA5 {
		t.Error("expected the acquisition to hold written bytes")
	}
}

func TestOSStrategyCacheReuse(t *testing.T) {
	s := NewOSStrategy(OSStrategyConfig{FreeThreshold: 4})
	buf, err := s.Acquire(pageSize)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	base := &buf[0]

	if err := s.Release(buf); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if got := s.numFree(); got != 1 {
		t.Fatalf("expected 1 cached acquisition, got %d", got)
	}

	again, err := s.Acquire(pageSize)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	t.Cleanup(func() { s.release(again) })
	if &again[0] != base {
		t.Error("expected the cached acquisition back, got a fresh one")
	}
	if got := s.numFree(); got != 0 {
		t.Errorf("expected an empty cache after the hit, got %d", got)
	}
}

func TestOSStrategyCacheSizeFilter(t *testing.T) {
	s := NewOSStrategy(OSStrategyConfig{FreeThreshold: 4})
	small, err := s.Acquire(pageSize)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	if err := s.Release(small); err != nil {
		t.Fatalf("failed to release: %v", err)
	}

	big, err := s.Acquire(2 * pageSize)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	t.Cleanup(func() { s.release(big) })
	if len(big) != 2*pageSize {
		t.Errorf("expected %d bytes, got %d", 2*pageSize, len(big))
	}
	if got := s.numFree(); got != 1 {
		t.Errorf("expected the smaller cached acquisition to be passed over, got %d cached", got)
	}
}

func TestOSStrategyCacheTrim(t *testing.T) {
	s := NewOSStrategy(OSStrategyConfig{FreeThreshold: 4})
	bufs := make([][]byte, 5)
	for i := range bufs {
		buf, err := s.Acquire(pageSize)
		if err != nil {
			t.Fatalf("acquisition %d failed: %v", i+1, err)
		}
		bufs[i] = buf
	}
	for i, buf := range bufs {
		if err := s.Release(buf); err != nil {
			t.Fatalf("release %d failed: %v", i+1, err)
		}
	}
	if got := s.numFree(); got != 3 {
		t.Fatalf("expected the cache halved past the threshold, got %d cached", got)
	}
}

func TestOSStrategyNoCache(t *testing.T) {
	s := NewOSStrategy(OSStrategyConfig{FreeThreshold: 0})
	buf, err := s.Acquire(pageSize)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	if err := s.Release(buf); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if got := s.numFree(); got != 0 {
		t.Errorf("expected nothing cached with a zero threshold, got %d", got)
	}
}

func TestOSStrategyReleaseNil(t *testing.T) {
	s := NewOSStrategy(DefaultOSStrategyConfig())
	if err := s.Release(nil); err != nil {
		t.Fatalf("expected a nil release to be a no-op, got %v", err)
	}
}

func TestTrimFree(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		threshold int
		kept      int
		surplus   int
	}{
		{"empty", 0, 4, 0, 0},
		{"at threshold", 4, 4, 4, 0},
		{"just past threshold", 5, 4, 3, 2},
		{"far past threshold", 10, 4, 5, 5},
		{"zero threshold", 3, 0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free := make([][]byte, tt.size)
			for i := range free {
				free[i] = []byte{byte(i)}
			}
			kept, surplus := trimFree(free, tt.threshold)
			if len(kept) != tt.kept || len(surplus) != tt.surplus {
				t.Fatalf("expected %d kept and %d surplus, got %d and %d",
					tt.kept, tt.surplus, len(kept), len(surplus))
			}
			if tt.surplus > 0 {
				// The oldest entries go first.
				if surplus[0][0] != 0 || kept[0][0] != byte(tt.surplus) {
					t.Errorf("expected the oldest %d entries released, got surplus head %d and kept head %d",
						tt.surplus, surplus[0][0], kept[0][0])
				}
			}
		})
	}
}

// TestPoolWithOSStrategy exercises a pool against real operating system
// memory end to end: allocation across chunks, value integrity, trimming
// back into the strategy cache and reuse out of it.
func TestPoolWithOSStrategy(t *testing.T) {
	s := NewOSStrategy(DefaultOSStrategyConfig())
	p := Custom[uint64](s)

	const n = 600 // spills into a second chunk
	ptrs := make([]*uint64, n)
	for i := range ptrs {
		ptr, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i+1, err)
		}
		*ptr = uint64(i)
		ptrs[i] = ptr
	}
	for i, ptr := range ptrs {
		if *ptr != uint64(i) {
			t.Fatalf("chip %d corrupted: expected %d, got %d", i, i, *ptr)
		}
		p.Deallocate(ptr)
	}

	released, err := p.Trim()
	if err != nil {
		t.Fatalf("failed to trim: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released acquisition, got %d", released)
	}
	if got := s.numFree(); got != 1 {
		t.Fatalf("expected the trimmed acquisition cached, got %d", got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if got := s.numFree(); got != 2 {
		t.Fatalf("expected both acquisitions cached, got %d", got)
	}

	// A fresh allocation is served straight out of the cache.
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("failed to allocate after close: %v", err)
	}
	if got := s.numFree(); got != 1 {
		t.Fatalf("expected a cache hit, got %d cached", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
}
