package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// listLine formats one LIST entry:
//
//	drwx------ 1 unknown unknown         4096 Jan 02 15:04 name
//
// The rwx bits are those the server itself holds on the entry, followed by
// six fixed dashes. The time column is HH:MM within the current year and the
// year otherwise.
func listLine(name string, info os.FileInfo, p perm, now time.Time) string {
	mode := []byte("----------")
	if info.IsDir() {
		mode[0] = 'd'
	}
	if p.has(permRead) {
		mode[1] = 'r'
	}
	if p.has(permWrite) {
		mode[2] = 'w'
	}
	if p.has(permExec) {
		mode[3] = 'x'
	}

	mt := info.ModTime()
	clock := mt.Format("2006")
	if mt.Year() == now.Year() {
		clock = mt.Format("15:04")
	}
	return fmt.Sprintf("%s 1 unknown unknown %12d %s %5s %s",
		mode, info.Size(), mt.Format("Jan 02"), clock, name)
}

// listTarget returns the LIST lines for path. A directory yields one line per
// direct child named by its base name; a file yields a single line with its
// absolute path.
func listTarget(path string, now time.Time) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, _ := accessBits(path)
		return []string{listLine(path, info, p, now)}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		ci, err := os.Stat(child)
		if err != nil {
			// Dangling symlink or removed meanwhile.
			continue
		}
		p, _ := accessBits(child)
		lines = append(lines, listLine(e.Name(), ci, p, now))
	}
	return lines, nil
}

// nameList returns the NLST names for path.
func nameList(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
