//go:build !unix && !windows

package chippool

import "unsafe"

// osAcquire falls back to page-aligned slices of Go heap memory on
// platforms without a virtual-memory binding. Alignment is met by
// over-allocating one page and slicing forward to the first page boundary.
// The pool and the strategy cache keep the slices reachable, and the
// runtime does not move heap objects, so the address-stability contract
// holds.
func osAcquire(size int) ([]byte, error) {
	raw := make([]byte, size+pageSize)
	off := 0
	if r := uintptr(unsafe.Pointer(&raw[0])) % pageSize; r != 0 {
		off = int(pageSize - r)
	}
	return raw[off : off+size : off+size], nil
}

func osRelease(buf []byte) error {
	return nil // dropped on the floor; the garbage collector reclaims it
}
