package wasm

import (
	"context"
	"log/slog"
	"os"

	"github.com/rove-run/rove/internal/bus"
	"github.com/rove-run/rove/internal/persistence"
)

// Supervisor watches for plugin crashes on the bus and attempts an
// automatic restart, re-verifying gate G2 against the manifest before
// reloading so a crash-restart cycle can never be used to slip in
// tampered bytes. A plugin that has already been quarantined (crash
// count over MaxCrashRestarts) is left alone — recordCrash already
// transitioned it out of the restart path.
type Supervisor struct {
	host   *Host
	store  *persistence.Store
	logger *slog.Logger
}

// NewSupervisor creates a Supervisor. logger may be nil.
func NewSupervisor(host *Host, store *persistence.Store, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{host: host, store: store, logger: logger}
}

// Watch subscribes to plugin-crash events and restarts each crashed
// plugin until ctx is canceled or the bus subscription is closed.
func (s *Supervisor) Watch(ctx context.Context, eventBus *bus.Bus) {
	sub := eventBus.Subscribe(bus.TopicPluginCrashed)
	go func() {
		defer eventBus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				payload, ok := ev.Payload.(map[string]string)
				if !ok {
					continue
				}
				s.restart(ctx, payload["module"])
			}
		}
	}()
}

func (s *Supervisor) restart(ctx context.Context, module string) {
	if module == "" || s.store == nil {
		return
	}
	rec, err := s.store.GetExtension(ctx, module)
	if err != nil || rec == nil {
		s.logger.Warn("supervisor: no extension record for crashed plugin", "module", module)
		return
	}
	if rec.LoadState == persistence.LoadQuarantined {
		return // already quarantined; recordCrash made the call
	}

	wasmBytes, err := os.ReadFile(rec.ArtifactPath)
	if err != nil {
		s.logger.Error("supervisor: cannot read plugin artifact for restart", "module", module, "path", rec.ArtifactPath, "error", err)
		return
	}

	if err := s.host.Restart(ctx, module, wasmBytes, rec.ArtifactPath); err != nil {
		s.logger.Error("supervisor: restart failed", "module", module, "error", err)
		return
	}
	s.logger.Info("supervisor: plugin restarted after crash", "module", module)
}
