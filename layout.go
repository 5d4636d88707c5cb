package chippool

import (
	"errors"
	"fmt"
	"unsafe"
)

const (
	// pageSize is the acquisition unit requested from a strategy. Chunk
	// geometry is defined against this fixed value rather than the host page
	// size, so a type's layout is identical on every platform.
	pageSize = 4096

	// An ordinary chunk occupies a whole page and stores free-list links as
	// uint16. Chunks for 1-byte objects store links inside single-byte chips,
	// so their payload is shrunk until every chip index fits in one byte;
	// sixteen such chunks are carved from each page acquisition.
	chunkSize    = pageSize
	chunkSize1B  = 256
	headerSize   = 24
	headerSize1B = 16

	// Sentinel freeIdx values meaning "free list empty", all bits of the
	// respective link width set.
	sentinel   = 0xFFFF
	sentinel1B = 0xFF

	chunksPerPage1B = pageSize / chunkSize1B
)

func init() {
	// Runtime assertions for the fixed geometry constants.
	if pageSize%chunkSize1B != 0 {
		panic(errors.New("chippool: page size must be a multiple of the 1-byte chunk size"))
	}
	if chunkSize1B-headerSize1B >= sentinel1B {
		panic(errors.New("chippool: 1-byte chip indices must stay below the link sentinel"))
	}
	if (chunkSize-headerSize)/2 >= sentinel {
		panic(errors.New("chippool: chip indices must stay below the link sentinel"))
	}
}

var (
	ErrZeroSize        = errors.New("chippool: zero-sized objects cannot be pooled")
	ErrIndivisibleSize = errors.New("chippool: object size does not evenly divide the chunk payload")
)

// Layout describes the chunk geometry derived for one object type.
// Construction is pure arithmetic over the type's size, so the same type
// always yields the same layout.
type Layout struct {
	ObjectSize       int // size of the pooled object type
	HeaderSize       int // bytes reserved at the chunk base for bookkeeping
	ChunkSize        int // chunk footprint, header included
	ChipCount        int // object slots per chunk
	ChunksPerAcquire int // chunks carved out of one strategy acquisition
	AcquireSize      int // bytes requested from the strategy per acquisition
}

// LayoutOf computes the chunk layout for T.
//
// It returns ErrZeroSize for zero-sized types and ErrIndivisibleSize when
// the chunk payload is not an exact multiple of T's size; a remainder would
// be wasted or overlapping memory, so such types are rejected before any
// pool is built for them.
func LayoutOf[T any]() (Layout, error) {
	var zero T
	g, err := geometryOf(unsafe.Sizeof(zero))
	if err != nil {
		return Layout{}, err
	}
	return g.layout(), nil
}

// geometry is the runtime form of a Layout, precomputed for pointer math on
// the allocation paths.
type geometry struct {
	slotSize         uintptr
	headerSize       uintptr
	chunkSize        uintptr
	mask             uintptr // clears the chunk-offset bits of a chip address
	linkSize         uintptr // width of the link field inside a free chip
	chipCount        uint16
	sentinel         uint16 // freeIdx value meaning "free list empty"
	chunksPerAcquire int
}

func geometryOf(size uintptr) (geometry, error) {
	if size == 0 {
		return geometry{}, ErrZeroSize
	}
	g := geometry{
		slotSize:         size,
		headerSize:       headerSize,
		chunkSize:        chunkSize,
		linkSize:         2,
		sentinel:         sentinel,
		chunksPerAcquire: 1,
	}
	if size == 1 {
		g.headerSize = headerSize1B
		g.chunkSize = chunkSize1B
		g.linkSize = 1
		g.sentinel = sentinel1B
		g.chunksPerAcquire = chunksPerPage1B
	}
	payload := g.chunkSize - g.headerSize
	if payload%size != 0 {
		return geometry{}, fmt.Errorf(
			"%w: size %d leaves a %d byte remainder in a %d byte payload",
			ErrIndivisibleSize, size, payload%size, payload,
		)
	}
	g.chipCount = uint16(payload / size)
	g.mask = ^(g.chunkSize - 1)
	return g, nil
}

func (g *geometry) layout() Layout {
	return Layout{
		ObjectSize:       int(g.slotSize),
		HeaderSize:       int(g.headerSize),
		ChunkSize:        int(g.chunkSize),
		ChipCount:        int(g.chipCount),
		ChunksPerAcquire: g.chunksPerAcquire,
		AcquireSize:      pageSize,
	}
}
