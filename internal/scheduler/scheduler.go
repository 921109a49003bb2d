// Package scheduler runs the periodic quota reset.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wanz-bot/Api/internal/utils"
)

// Off disables the reset job; quotas then count for the key's lifetime.
const Off = "off"

// Resetter zeroes the daily counters of every API key.
type Resetter interface {
	ResetDailyCounters(ctx context.Context) (int, error)
}

type Scheduler struct {
	resetter Resetter
	spec     string
	c        *cron.Cron
	timeout  time.Duration
	logger   *utils.Logger
}

// New validates spec (standard five-field cron or a descriptor such as
// "@daily") and prepares the job. Schedules are evaluated in UTC.
func New(resetter Resetter, spec string) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	s := &Scheduler{
		resetter: resetter,
		spec:     spec,
		timeout:  5 * time.Minute,
		logger:   utils.NewLogger("scheduler"),
	}
	if s.Disabled() {
		return s, nil
	}

	s.c = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.c.AddFunc(spec, s.runJob); err != nil {
		return nil, fmt.Errorf("invalid reset schedule %q: %w", spec, err)
	}
	return s, nil
}

// Disabled reports whether the reset job is switched off.
func (s *Scheduler) Disabled() bool {
	return s.spec == "" || strings.EqualFold(s.spec, Off)
}

func (s *Scheduler) Start() {
	if s.Disabled() {
		s.logger.Info("Quota reset disabled; usage is cumulative")
		return
	}
	s.logger.Info("Starting quota reset schedule", "schedule", s.spec)
	s.c.Start()
}

// Stop stops the scheduler and waits for a running job, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Quota reset job still running at shutdown")
	}
}

// RunOnce performs one reset immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	n, err := s.resetter.ResetDailyCounters(ctx)
	if err != nil {
		return n, fmt.Errorf("reset daily counters: %w", err)
	}
	return n, nil
}

func (s *Scheduler) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Daily quota reset failed", "reset", n, "error", err)
		return
	}
	s.logger.Info("Daily quota reset", "reset", n)
}
