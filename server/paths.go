package server

import (
	"path/filepath"
	"strings"
)

// resolvePath turns a client argument into an absolute path relative to wd.
//
//	"."        wd
//	".."       parent of wd, or wd at the root
//	"x/."      x, resolved against wd when relative
//	"/abs"     as given
//	"rel"      wd/rel
func resolvePath(wd, arg string) string {
	switch arg {
	case "", ".":
		return wd
	case "..":
		return filepath.Dir(wd)
	}

	if strings.HasSuffix(arg, "/.") {
		arg = strings.TrimSuffix(arg, ".")
	}
	if filepath.IsAbs(arg) {
		return filepath.Clean(arg)
	}
	return filepath.Join(wd, arg)
}

// quotePath doubles embedded quotes as RFC 959 requires for 257 replies.
func quotePath(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}
