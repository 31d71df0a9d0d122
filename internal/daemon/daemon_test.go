package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestStartForeground_EmptyHomeRejected(t *testing.T) {
	err := StartForeground(context.Background(), Options{}, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected an error starting with an empty home")
	}
}

func TestStartForeground_WritesAndRemovesPIDFile(t *testing.T) {
	home := t.TempDir()
	started := make(chan struct{})
	done := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		done <- StartForeground(ctx, Options{Home: home, Addr: "127.0.0.1:9"}, func(innerCtx context.Context) error {
			close(started)
			<-innerCtx.Done()
			return nil
		})
	}()

	<-started
	st, err := Status(home)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Running || st.Addr != "127.0.0.1:9" {
		t.Fatalf("expected a running daemon with recorded addr, got %+v", st)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartForeground did not return after context cancellation")
	}

	st2, _ := Status(home)
	if st2.Running {
		t.Error("expected the PID file to be removed after shutdown")
	}
}

func TestAcquireLock_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rove.lock")
	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}
	defer first.release()

	if _, err := acquireLock(path); err == nil {
		t.Error("expected a second acquireLock on the same path to fail while the first is held")
	}
}

func TestAcquireLock_ReacquiresAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rove.lock")
	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}
	first.release()

	second, err := acquireLock(path)
	if err != nil {
		t.Fatalf("expected acquireLock to succeed after release, got %v", err)
	}
	second.release()
}

func TestStatus_NoPIDFileReportsNotRunning(t *testing.T) {
	st, err := Status(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Running {
		t.Error("expected Running=false with no PID file")
	}
}

func TestStop_NotRunningReturnsErrNotRunning(t *testing.T) {
	_, err := Stop(t.TempDir())
	if err != ErrNotRunning {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
}
