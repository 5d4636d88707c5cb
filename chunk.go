package chippool

import (
	"fmt"
	"unsafe"
)

// chunkHeader is the bookkeeping block overlaid at the base of every chunk.
// Chips follow at base+headerSize. The header sizes are fixed layout
// constants, not unsafe.Sizeof, so chip counts never drift across
// architectures; both are multiples of 8, which keeps every chip address
// aligned for its object type (Go type sizes are multiples of their
// alignment, and alignment never exceeds 8).
type chunkHeader struct {
	freeIdx   uint16 // most recently freed chip, or the sentinel when the free list is empty
	beginIdx  uint16 // first virgin chip; chips at or past it have never been handed out
	usedCount uint16 // live objects in this chunk
	_         uint16
	next      uintptr // successor in the pool rotation, 0 when none
}

// The header fields must fit the tighter 1-byte header size everywhere.
var _ [headerSize1B - unsafe.Sizeof(chunkHeader{})]byte

// chunkAt reinterprets a chunk base address as its header. The pool retains
// every acquisition for as long as its chunks are in use, so the address is
// stable regardless of where the strategy sourced the memory.
func chunkAt(addr uintptr) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(addr))
}

func (c *chunkHeader) base() uintptr {
	return uintptr(unsafe.Pointer(c))
}

func (c *chunkHeader) isFull(g *geometry) bool {
	return c.usedCount == g.chipCount
}

func (c *chunkHeader) isEmpty() bool {
	return c.usedCount == 0
}

func (c *chunkHeader) hasFree(g *geometry) bool {
	return c.freeIdx != g.sentinel
}

// successor returns the next chunk in the rotation, nil when there is none.
func (c *chunkHeader) successor() *chunkHeader {
	if c.next == 0 {
		return nil
	}
	return chunkAt(c.next)
}

// chip returns the address of chip idx.
func (c *chunkHeader) chip(g *geometry, idx uint16) unsafe.Pointer {
	return unsafe.Pointer(c.base() + g.headerSize + uintptr(idx)*g.slotSize)
}

// chipIndex is the inverse of chip for a pointer into this chunk.
func (c *chunkHeader) chipIndex(g *geometry, p unsafe.Pointer) uint16 {
	return uint16((uintptr(p) - c.base() - g.headerSize) / g.slotSize)
}

// readLink and writeLink are the only two places a chip's storage is
// reinterpreted as a free-list link. A chip holds a link only while it sits
// on the free list; the same bytes are object storage the rest of the time.
func readLink(chip unsafe.Pointer, g *geometry) uint16 {
	if g.linkSize == 1 {
		return uint16(*(*uint8)(chip))
	}
	return *(*uint16)(chip)
}

func writeLink(chip unsafe.Pointer, g *geometry, idx uint16) {
	if g.linkSize == 1 {
		*(*uint8)(chip) = uint8(idx)
		return
	}
	*(*uint16)(chip) = idx
}

// popFree removes and returns the head of the free list.
// The caller must ensure the free list is non-empty.
func (c *chunkHeader) popFree(g *geometry) unsafe.Pointer {
	chip := c.chip(g, c.freeIdx)
	c.freeIdx = readLink(chip, g)
	return chip
}

// pushFree threads chip idx onto the free list through its own storage.
func (c *chunkHeader) pushFree(g *geometry, idx uint16) {
	writeLink(c.chip(g, idx), g, c.freeIdx)
	c.freeIdx = idx
}

// bump hands out the next virgin chip and advances the frontier.
// The caller must ensure the frontier has not reached chipCount.
func (c *chunkHeader) bump(g *geometry) unsafe.Pointer {
	chip := c.chip(g, c.beginIdx)
	c.beginIdx++
	return chip
}

// reset restores a drained chunk to its freshly carved state. The free-list
// chain is abandoned wholesale; every chip is virgin again, so subsequent
// allocations run through the bump frontier.
func (c *chunkHeader) reset(g *geometry) {
	c.freeIdx = g.sentinel
	c.beginIdx = 0
}

// carve overlays chunk headers onto a fresh acquisition and chains them
// front to back. The acquisition may carry stale bytes from an earlier
// life, so every header field is written explicitly. Returns the first
// chunk of the chain.
func carve(buf []byte, g *geometry) *chunkHeader {
	base := uintptr(unsafe.Pointer(&buf[0]))
	if base%pageSize != 0 {
		panic(fmt.Errorf("chippool: acquisition base %#x is not page aligned", base))
	}
	if len(buf) < pageSize {
		panic(fmt.Errorf("chippool: acquisition is %d bytes, need %d", len(buf), pageSize))
	}
	var succ *chunkHeader
	for i := g.chunksPerAcquire - 1; i >= 0; i-- {
		c := chunkAt(base + uintptr(i)*g.chunkSize)
		c.freeIdx = g.sentinel
		c.beginIdx = 0
		c.usedCount = 0
		c.next = 0
		if succ != nil {
			c.next = succ.base()
		}
		succ = c
	}
	return succ
}
