//go:build windows

package sandbox

import "os/exec"

// Windows has no process groups in the POSIX sense and no procfs. Runs
// still work; timeout kills reach only the direct child and peak memory
// reports zero.

func setupProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func rusagePeakBytes(cmd *exec.Cmd) (int64, bool) {
	return 0, false
}

func procPeakBytes(pid int) (int64, bool) {
	return 0, false
}

func exitSignal(err error) string {
	return ""
}
