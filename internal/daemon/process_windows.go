//go:build windows

package daemon

import (
	"context"
	"fmt"
	"hash/fnv"
	"syscall"

	"golang.org/x/sys/windows"
)

// platformProcAttr starts the background daemon in its own process
// group: Windows has no setsid equivalent, so CREATE_NEW_PROCESS_GROUP
// is the closest match (detaches it from the parent console's Ctrl-C).
func platformProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// windowsStillActive is STILL_ACTIVE (259), the exit code Windows
// reports for a process that has not yet terminated.
const windowsStillActive = 259

// eventName derives a stable named-event identifier from the state
// directory, so the daemon and a later `stop` invocation agree on a
// name without sharing anything beyond the --home flag.
func eventName(home string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(home))
	return fmt.Sprintf("Local\\rove-daemon-%08x", h.Sum32())
}

// isProcessAlive has no kill(pid, 0) equivalent on Windows; it opens
// the process and inspects its exit code instead.
func isProcessAlive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windowsStillActive
}

// signalStop sets the named event the running daemon is waiting on,
// the named-event equivalent of POSIX SIGTERM.
func signalStop(home string, pid int) error {
	name, err := windows.UTF16PtrFromString(eventName(home))
	if err != nil {
		return err
	}
	h, err := windows.OpenEvent(windows.EVENT_MODIFY_STATE, false, name)
	if err != nil {
		return fmt.Errorf("daemon: open stop event (is pid %d running?): %w", pid, err)
	}
	defer windows.CloseHandle(h)
	return windows.SetEvent(h)
}

// watchForStop creates the named event and signals the returned
// channel once another process calls signalStop against the same home.
func watchForStop(ctx context.Context, home string) <-chan struct{} {
	ch := make(chan struct{})
	name, err := windows.UTF16PtrFromString(eventName(home))
	if err != nil {
		close(ch)
		return ch
	}
	h, err := windows.CreateEvent(nil, 1, 0, name)
	if err != nil {
		close(ch)
		return ch
	}
	go func() {
		defer windows.CloseHandle(h)
		defer close(ch)
		windows.WaitForSingleObject(h, windows.INFINITE)
	}()
	return ch
}
