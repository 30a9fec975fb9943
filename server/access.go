package server

// perm is a set of rwx bits as granted to the server process.
type perm uint8

const (
	permExec  perm = 1
	permWrite perm = 2
	permRead  perm = 4
)

func (p perm) has(want perm) bool {
	return p&want == want
}

// canTraverse reports whether path may become a working directory.
func canTraverse(path string) bool {
	p, err := accessBits(path)
	return err == nil && p.has(permRead|permExec)
}

func canRead(path string) bool {
	p, err := accessBits(path)
	return err == nil && p.has(permRead)
}

func canWrite(path string) bool {
	p, err := accessBits(path)
	return err == nil && p.has(permWrite)
}
