// Package mmap memory-maps files read-only for whole-file scanning.
package mmap

import (
	"os"
)

// Open maps the first size bytes of f as a shared read-only mapping with a
// sequential-access advice hint (a blend file is scanned front to back in
// one pass).
func Open(f *os.File, size int) ([]byte, error) {
	return open(f, size)
}

// Close unmaps the given slice. The slice must have been returned by Open;
// no views into it may be used afterwards.
func Close(b []byte) error {
	return munmap(b)
}
