package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs a Reconciler's RunOnce on a fixed interval.
type Scheduler struct {
	sched gocron.Scheduler
}

// StartScheduled builds and starts a Scheduler that calls r.RunOnce
// every interval until Stop is called.
func StartScheduled(r *Reconciler, interval time.Duration) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error("reconciliation pass failed", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule reconciliation job: %w", err)
	}

	sched.Start()
	return &Scheduler{sched: sched}, nil
}

// Stop shuts down the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}
