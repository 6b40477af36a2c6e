//go:build darwin

package sandbox

import "syscall"

// maxRSSBytes converts rusage Maxrss to bytes. macOS reports bytes.
func maxRSSBytes(rusage *syscall.Rusage) int64 {
	return rusage.Maxrss
}

// procPeakBytes is unavailable on macOS; there is no procfs to poll.
// Peak memory falls back to the rusage value at exit.
func procPeakBytes(pid int) (int64, bool) {
	return 0, false
}
