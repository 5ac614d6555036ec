//go:build unix

package persidict

import "syscall"

// statInode extracts the inode number from a os.FileInfo.Sys() value on
// unix-family platforms, for inclusion in the stat-derived ETag.
func statInode(sys any) uint64 {
	st, ok := sys.(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Ino)
}
