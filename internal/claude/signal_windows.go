//go:build windows

package claude

import "os/exec"

// setProcessGroup is a no-op on Windows.
func setProcessGroup(*exec.Cmd) {}

// signalTerm kills the process; Windows has no graceful TERM delivery.
func signalTerm(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// signalKill forcibly kills the process.
func signalKill(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
