// Package cron is a scheduled task source: it fires config-defined cron
// expressions and submits each as a TaskInput, the same shape a CLI,
// Telegram, or REST request would submit.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Entry is one configured schedule: a cron expression and the prompt
// to submit as a task each time it fires.
type Entry struct {
	Name     string
	CronExpr string
	Prompt   string
}

// Submitter hands a scheduled Entry off to the agent core as a task.
// Implemented by cmd/rove with a closure over the agent Loop, so this
// package depends on neither the loop nor persistence directly.
type Submitter func(ctx context.Context, source string, prompt string) error

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Entries  []Entry
	Submit   Submitter
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 30s if zero
}

// Scheduler ticks at Interval and fires any Entry whose cron expression
// is due since its last firing.
type Scheduler struct {
	entries  []Entry
	submit   Submitter
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	lastRun  map[string]time.Time
	nextRun  map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler, computing each entry's first
// next-run time from the current moment.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		entries:  cfg.Entries,
		submit:   cfg.Submit,
		logger:   logger,
		interval: interval,
		lastRun:  make(map[string]time.Time),
		nextRun:  make(map[string]time.Time),
	}
	now := time.Now()
	for _, e := range s.entries {
		next, err := NextRunTime(e.CronExpr, now)
		if err != nil {
			return nil, fmt.Errorf("cron: entry %q: %w", e.Name, err)
		}
		s.nextRun[e.Name] = next
	}
	return s, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval, "entries", len(s.entries))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, e := range s.entries {
		s.mu.Lock()
		due := !s.nextRun[e.Name].After(now)
		s.mu.Unlock()
		if due {
			s.fire(ctx, e, now)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, e Entry, now time.Time) {
	source := "schedule:" + e.Name
	if err := s.submit(ctx, source, e.Prompt); err != nil {
		s.logger.Error("cron: failed to submit scheduled task", "entry", e.Name, "error", err)
	} else {
		s.logger.Info("cron: entry fired", "entry", e.Name)
	}

	next, err := NextRunTime(e.CronExpr, now)
	if err != nil {
		s.logger.Error("cron: failed to compute next run time", "entry", e.Name, "error", err)
		return
	}

	s.mu.Lock()
	s.lastRun[e.Name] = now
	s.nextRun[e.Name] = next
	s.mu.Unlock()
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
