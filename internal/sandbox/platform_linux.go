//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// maxRSSBytes converts rusage Maxrss to bytes. Linux reports kilobytes.
func maxRSSBytes(rusage *syscall.Rusage) int64 {
	return rusage.Maxrss * 1024
}

// procPeakBytes reads VmHWM from /proc/<pid>/status while the child is
// alive. VmHWM is already a high-water mark, so each read returns the peak
// so far and the last successful read before exit is the one that counts.
func procPeakBytes(pid int) (int64, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmHWM:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
