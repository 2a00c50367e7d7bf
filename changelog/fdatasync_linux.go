package changelog

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync skips the metadata flush fsync does. An error is not recoverable:
// the kernel may already have marked the failed pages clean.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
