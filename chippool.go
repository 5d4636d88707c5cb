// Package chippool implements a fixed-size object pool allocator.
// It hands out raw storage for objects of a single type, carved from
// page-sized memory acquisitions and recycled through free lists threaded
// in place through the freed objects' own storage.
package chippool

import (
	"errors"
	"unsafe"
)

var defaultStrategy = NewOSStrategy(DefaultOSStrategyConfig())

// Pool is a fixed-size object pool for values of type T.
//
// Allocate returns uninitialized storage for one T and Deallocate recycles
// it; both are O(1). The pool keeps a rotation of chunks reachable from the
// current one: full chunks fall out of the rotation and splice themselves
// back in on their first free, so allocation never scans.
//
// A Pool is not safe for concurrent use. Callers supply their own
// synchronization or keep one pool per goroutine; distinct pools are fully
// independent.
type Pool[T any] struct {
	strategy Strategy
	geo      geometry

	// current is the chunk serving allocations, nil until first use. Every
	// chunk reachable from it through successor links, other than current
	// itself, has room; Deallocate maintains this when it splices chunks.
	current *chunkHeader

	// acquired retains every live acquisition. It backs Trim and Close and
	// keeps strategy memory reachable for as long as its chunks are in use.
	acquired [][]byte
}

// New creates a pool for T backed by the shared operating system strategy.
//
// It panics when T's size does not fit the chunk geometry (see LayoutOf).
// Validity is a property of the type itself, so an invalid instantiation is
// a programming error rather than a runtime condition.
func New[T any]() *Pool[T] {
	return Custom[T](defaultStrategy)
}

// Custom creates a pool for T with its own acquisition strategy.
// It panics under the same conditions as New.
func Custom[T any](strategy Strategy) *Pool[T] {
	var zero T
	g, err := geometryOf(unsafe.Sizeof(zero))
	if err != nil {
		panic(err)
	}
	return &Pool[T]{strategy: strategy, geo: g}
}

// Layout reports the chunk geometry the pool was instantiated with.
func (p *Pool[T]) Layout() Layout {
	return p.geo.layout()
}

// Allocate returns a pointer to uninitialized storage for one T.
//
// It fails only when a fresh acquisition is needed and the strategy cannot
// provide one; the strategy's error is returned unchanged. The pointer
// stays valid until it is passed to Deallocate or the pool is closed.
func (p *Pool[T]) Allocate() (*T, error) {
	g := &p.geo
	cur := p.current
	if cur == nil {
		c, err := p.acquireChunks()
		if err != nil {
			return nil, err
		}
		cur = c
		p.current = cur
	}
	if cur.isFull(g) {
		// The successor, when present, has room by the rotation invariant.
		// The full chunk is left behind; it rejoins on its first free.
		if next := cur.successor(); next != nil {
			cur = next
		} else {
			c, err := p.acquireChunks()
			if err != nil {
				return nil, err
			}
			cur = c
		}
		p.current = cur
	}
	cur.usedCount++
	if cur.hasFree(g) {
		// Most recently freed chip first; it is the most likely to be warm.
		return (*T)(cur.popFree(g)), nil
	}
	return (*T)(cur.bump(g)), nil
}

// Deallocate returns the chip at ptr to its owning chunk.
//
// ptr must have been returned by Allocate on this same pool and must not
// already be deallocated. Violations are undefined behavior, not
// recoverable errors; this path performs no runtime validation.
func (p *Pool[T]) Deallocate(ptr *T) {
	g := &p.geo
	c := chunkAt(uintptr(unsafe.Pointer(ptr)) & g.mask)
	if c.isFull(g) && c != p.current {
		// Splice the chunk back into the rotation as the new current. A
		// current that is itself full is pushed out instead, handing its
		// successors over; like any full chunk it rejoins on its first free.
		if p.current.isFull(g) {
			c.next = p.current.next
			p.current.next = 0
		} else {
			c.next = p.current.base()
		}
		p.current = c
	}
	c.usedCount--
	if c.isEmpty() {
		c.reset(g)
		return
	}
	c.pushFree(g, c.chipIndex(g, unsafe.Pointer(ptr)))
}

// Trim releases fully idle acquisitions back to the strategy. An
// acquisition qualifies only when every chunk carved from it is empty, in
// the rotation, and not the current chunk; qualifying chunks are unlinked
// first. It returns the number of acquisitions released and any errors the
// strategy reported, joined.
//
// Trim is the explicit counterpart to the allocation paths, which never
// release memory on their own. It walks the rotation, so unlike Allocate
// and Deallocate it is not O(1).
func (p *Pool[T]) Trim() (released int, err error) {
	if p.current == nil {
		return 0, nil
	}
	g := &p.geo

	// Tally empty rotation chunks per owning acquisition. The current chunk
	// is never tallied, so its acquisition can never reach the full count.
	empty := make(map[uintptr]int, len(p.acquired))
	for c := p.current.successor(); c != nil; c = c.successor() {
		if c.isEmpty() {
			empty[acquisitionBase(c)]++
		}
	}

	releasable := func(base uintptr) bool {
		return empty[base] == g.chunksPerAcquire
	}
	if len(empty) == 0 {
		return 0, nil
	}

	// Unlink every chunk that belongs to a releasable acquisition. The head
	// stays: the current chunk's acquisition never qualifies.
	for c := p.current; c != nil; {
		next := c.successor()
		for next != nil && releasable(acquisitionBase(next)) {
			next = next.successor()
		}
		if next == nil {
			c.next = 0
		} else {
			c.next = next.base()
		}
		c = next
	}

	var errs []error
	kept := p.acquired[:0]
	for _, buf := range p.acquired {
		if !releasable(uintptr(unsafe.Pointer(&buf[0]))) {
			kept = append(kept, buf)
			continue
		}
		if rerr := p.strategy.Release(buf); rerr != nil {
			errs = append(errs, rerr)
		}
		released++
	}
	clear(p.acquired[len(kept):])
	p.acquired = kept
	return released, errors.Join(errs...)
}

// Close releases every acquisition back to the strategy and resets the pool
// to its pristine state. All pointers previously returned by Allocate are
// invalid afterwards. The pool remains usable; the next Allocate acquires
// fresh memory. Release errors are joined and returned.
func (p *Pool[T]) Close() error {
	var errs []error
	for _, buf := range p.acquired {
		if err := p.strategy.Release(buf); err != nil {
			errs = append(errs, err)
		}
	}
	p.acquired = nil
	p.current = nil
	return errors.Join(errs...)
}

// acquireChunks obtains one acquisition from the strategy and carves it.
// Ordinary layouts yield a single chunk per acquisition; the 1-byte layout
// carves a pre-chained run of sixteen, amortizing the acquisition cost.
func (p *Pool[T]) acquireChunks() (*chunkHeader, error) {
	buf, err := p.strategy.Acquire(pageSize)
	if err != nil {
		return nil, err
	}
	p.acquired = append(p.acquired, buf)
	return carve(buf, &p.geo), nil
}

// acquisitionBase recovers the page-aligned base of the acquisition a chunk
// was carved from. For ordinary chunks this is the chunk base itself.
func acquisitionBase(c *chunkHeader) uintptr {
	return c.base() &^ uintptr(pageSize-1)
}
