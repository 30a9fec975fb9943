package server

import "os"

// dirUsage sums the sizes of the regular files directly inside dir.
// Subdirectories are not descended into.
func dirUsage(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// quotaGuard admits upload blocks while the directory stays under its limit.
type quotaGuard struct {
	limit int64
	used  int64
}

// admit reports whether n more bytes fit. A block that would bring usage to
// the limit or beyond is refused and not counted.
func (q *quotaGuard) admit(n int) bool {
	if q == nil {
		return true
	}
	if q.used+int64(n) >= q.limit {
		return false
	}
	q.used += int64(n)
	return true
}

// effectiveQuota resolves an account quota against the server default.
func effectiveQuota(account, serverDefault int64) int64 {
	if account != Unlimited {
		return account
	}
	return serverDefault
}
