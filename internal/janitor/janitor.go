// Package janitor periodically sweeps the Run Coordinator for providers
// stuck non-terminal past a grace period - a crashed process, an orphaned
// sandbox, a caller who never called stopRun - and force-fails them,
// destroying whatever sandbox they left behind. It is the system's answer
// to "what happens if nobody calls stopRun".
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/pkg/logging"
)

const janitorSubsystem = "Janitor"

// defaultGracePeriod is how long a provider may sit in a non-terminal
// status with no status change before the janitor considers it stuck.
const defaultGracePeriod = 30 * time.Minute

// defaultSchedule sweeps every 5 minutes - frequent enough that a crashed
// run doesn't leak a sandbox for long, infrequent enough not to spam the
// Driver Gateway with status checks.
const defaultSchedule = "*/5 * * * *"

// Config parameterizes a Janitor.
type Config struct {
	Coordinator *coordinator.Coordinator

	// GracePeriod is how long a provider may remain non-terminal with no
	// status change before a sweep force-fails it. Defaults to 30m.
	GracePeriod time.Duration

	// Schedule is a standard cron expression for sweep frequency.
	// Defaults to every 5 minutes.
	Schedule string
}

// Janitor runs Config.Coordinator's stale-run sweep on a cron schedule.
type Janitor struct {
	cfg  Config
	cron *cron.Cron
}

// New builds a Janitor. It does not start sweeping until Start is called.
func New(cfg Config) *Janitor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	return &Janitor{cfg: cfg, cron: cron.New()}
}

// Start registers the sweep on Config.Schedule and starts the cron
// scheduler in its own goroutine. Returns an error only if Schedule
// fails to parse.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		j.Sweep(context.Background())
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-progress sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one pass immediately: every run's every provider is checked
// against GracePeriod, and any run with at least one stuck provider has
// StopRun called on it. StopRun already force-fails non-terminal
// providers and destroys their sandboxes, so the janitor reuses it rather
// than duplicating that teardown logic.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now()
	for _, run := range j.cfg.Coordinator.ListRuns() {
		if run.Status != coordinator.RunRunning {
			continue
		}

		var stuck []string
		for provider, state := range run.States {
			if state.Status.Terminal() {
				continue
			}
			if now.Sub(state.UpdatedAt) > j.cfg.GracePeriod {
				stuck = append(stuck, provider)
			}
		}
		if len(stuck) == 0 {
			continue
		}

		logging.Warn(janitorSubsystem, "run %s stuck on providers %v past grace period %s, force-stopping", run.ID, stuck, j.cfg.GracePeriod)
		if _, err := j.cfg.Coordinator.StopRun(ctx, run.ID); err != nil {
			logging.Warn(janitorSubsystem, "force-stop of run %s failed: %v", run.ID, err)
		}
	}
}
