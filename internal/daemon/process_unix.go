//go:build !windows

package daemon

import (
	"context"
	"syscall"
)

// isProcessAlive uses the kill(pid, 0) idiom: no signal is sent, only
// existence/permission is checked.
func isProcessAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// signalStop asks pid to shut down gracefully via SIGTERM, matching
// the teacher's own signal.NotifyContext(os.Interrupt, syscall.SIGTERM)
// shutdown trigger in cmd/rove. home is unused on this platform — the
// signal targets the pid directly.
func signalStop(home string, pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// platformProcAttr detaches the background daemon into its own
// session so it outlives the shell that launched it.
func platformProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// watchForStop returns a channel that never fires on this platform:
// graceful shutdown is wired through signal.NotifyContext in cmd/rove,
// which already cancels the context this channel would otherwise be
// selected alongside.
func watchForStop(ctx context.Context, home string) <-chan struct{} {
	return make(chan struct{})
}
