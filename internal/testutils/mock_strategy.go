// Package testutils provides test doubles for the chippool package.
package testutils

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

const pageSize = 4096

// ErrAcquireRefused is returned by a MockStrategy whose acquire budget is
// exhausted.
var ErrAcquireRefused = errors.New("testutils: acquire refused")

// MockStrategy is an in-memory acquisition strategy for tests. It serves
// page-aligned heap slices, deliberately pre-soiled so callers that depend
// on zeroed memory fail loudly, and counts calls.
type MockStrategy struct {
	acquireCalls atomic.Int64
	releaseCalls atomic.Int64

	// FailAfter, when non-zero, allows that many successful Acquire calls
	// and refuses the rest with ErrAcquireRefused. A negative value refuses
	// immediately; zero never refuses.
	FailAfter int64

	// ReleaseErr, when set, is returned by every Release call.
	ReleaseErr error

	// Misalign shifts served memory off the page boundary, violating the
	// strategy contract on purpose.
	Misalign bool
}

func (s *MockStrategy) Acquire(size int) ([]byte, error) {
	if s.FailAfter != 0 && s.acquireCalls.Load() >= s.FailAfter {
		return nil, ErrAcquireRefused
	}
	s.acquireCalls.Add(1)
	buf := alignedBuf(size + 8)
	if s.Misalign {
		buf = buf[8 : size+8 : size+8]
	} else {
		buf = buf[:size:size]
	}
	for i := range buf {
		buf[i] = 0xA5
	}
	return buf, nil
}

func (s *MockStrategy) Release(buf []byte) error {
	s.releaseCalls.Add(1)
	return s.ReleaseErr
}

// AcquireCalls returns the number of successful acquisitions served.
func (s *MockStrategy) AcquireCalls() int64 {
	return s.acquireCalls.Load()
}

func (s *MockStrategy) ReleaseCalls() int64 {
	return s.releaseCalls.Load()
}

// InUse returns the number of acquisitions served and not yet released.
func (s *MockStrategy) InUse() int64 {
	return s.AcquireCalls() - s.ReleaseCalls()
}

func (s *MockStrategy) Reset() {
	s.acquireCalls.Store(0)
	s.releaseCalls.Store(0)
}

// alignedBuf returns a page-aligned heap slice. The Go allocator gives page
// alignment only incidentally, so over-allocate and slice forward to the
// first boundary.
func alignedBuf(size int) []byte {
	raw := make([]byte, size+pageSize)
	off := 0
	if r := uintptr(unsafe.Pointer(&raw[0])) % pageSize; r != 0 {
		off = int(pageSize - r)
	}
	return raw[off : off+size : off+size]
}
