package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps idle stores out of a Registry.
type Janitor struct {
	registry *Registry
	interval time.Duration
	idle     time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	run  sync.Mutex
	cron *cron.Cron
}

// NewJanitor creates a janitor that sweeps reg every interval, dropping
// stores unused for longer than idle.
func NewJanitor(reg *Registry, interval, idle time.Duration) *Janitor {
	return &Janitor{
		registry: reg,
		interval: interval,
		idle:     idle,
		logger:   slog.Default(),
	}
}

// Start schedules the sweep. It is a no-op if interval or idle is not
// positive.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.interval <= 0 || j.idle <= 0 {
		j.logger.Info("memory janitor disabled")
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	j.cron = cron.New(cron.WithParser(parser))

	spec := fmt.Sprintf("@every %s", j.interval)
	if _, err := j.cron.AddFunc(spec, j.SweepOnce); err != nil {
		return fmt.Errorf("scheduling memory sweep %q: %w", spec, err)
	}
	j.cron.Start()
	j.logger.Info("memory janitor started", "interval", j.interval, "idle_ttl", j.idle)
	return nil
}

// SweepOnce runs a single sweep unless one is already in progress.
func (j *Janitor) SweepOnce() {
	if !j.run.TryLock() {
		j.logger.Warn("memory sweep still running, skipping tick")
		return
	}
	defer j.run.Unlock()
	j.registry.Sweep(j.idle)
}

// Stop halts the schedule and waits for an in-flight sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		<-j.cron.Stop().Done()
		j.cron = nil
	}
}
