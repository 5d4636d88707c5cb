//go:build unix

package chippool

import "golang.org/x/sys/unix"

// osAcquire maps committed, read-write, page-aligned memory that is not
// part of the Go heap.
func osAcquire(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
}

func osRelease(buf []byte) error {
	return unix.Munmap(buf)
}
