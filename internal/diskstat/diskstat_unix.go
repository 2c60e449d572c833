//go:build unix

package diskstat

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Stat returns disk usage for the filesystem containing path.
func Stat(path string) (Usage, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	total := fs.Blocks * uint64(fs.Bsize)
	free := fs.Bfree * uint64(fs.Bsize)
	return Usage{UsedBytes: total - free, TotalBytes: total}, nil
}
