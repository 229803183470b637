//go:build unix

package dispatch

import "golang.org/x/sys/unix"

// mapRegion reserves an anonymous private mapping for stubs. Regions are
// never moved, so addresses handed out stay valid until unmapRegion.
func mapRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapRegion(mem []byte) error {
	return unix.Munmap(mem)
}

func pageSize() int {
	return unix.Getpagesize()
}
