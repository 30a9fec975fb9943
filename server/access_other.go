//go:build !unix

package server

import "os"

// accessBits uses the owner bits; ownership is not available here.
func accessBits(path string) (perm, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return perm((info.Mode().Perm() >> 6) & 7), nil
}
