//go:build unix

package server

import (
	"slices"

	"golang.org/x/sys/unix"
)

// accessBits evaluates the mode bits of path for the effective uid and gid of
// the process. The superuser is not exempt: a directory with mode 0700 owned
// by someone else is closed to every session.
func accessBits(path string) (perm, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	mode := uint32(st.Mode) & 0o777

	if st.Uid == uint32(unix.Geteuid()) {
		return perm((mode >> 6) & 7), nil
	}
	if inGroup(st.Gid) {
		return perm((mode >> 3) & 7), nil
	}
	return perm(mode & 7), nil
}

func inGroup(gid uint32) bool {
	if gid == uint32(unix.Getegid()) {
		return true
	}
	groups, err := unix.Getgroups()
	if err != nil {
		return false
	}
	return slices.Contains(groups, int(gid))
}
