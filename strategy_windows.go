//go:build windows

package chippool

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// osAcquire commits read-write, page-aligned memory from the Windows
// virtual-memory facility, outside the Go heap.
func osAcquire(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_READWRITE,
	)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func osRelease(buf []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&buf[0])), 0, windows.MEM_RELEASE)
}
