//go:build !windows

package scanner

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileID returns "dev=<n>,inode=<n>" for the stat result, or "" when the
// platform stat is unavailable.
func fileID(_ string, info fs.FileInfo) string {
	if info == nil {
		return ""
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return ""
	}
	return fmt.Sprintf("dev=%d,inode=%d", uint64(stat.Dev), stat.Ino)
}
