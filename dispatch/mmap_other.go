//go:build !unix

package dispatch

import "os"

// Without mmap the Go heap backs regions. The collector does not move
// objects, so region addresses stay stable while the heap holds them.
func mapRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapRegion(mem []byte) error {
	return nil
}

func pageSize() int {
	return os.Getpagesize()
}
