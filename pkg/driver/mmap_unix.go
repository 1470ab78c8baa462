//go:build unix

package driver

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile creates path, sizes it, and maps it shared read-write.
func mapFile(path string, size int) (*mapping, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create log file %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("resize log file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmap log file: %w", err)
	}
	return &mapping{data: data, path: path, unmap: unix.Munmap}, nil
}
