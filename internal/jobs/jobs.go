// Package jobs runs the periodic maintenance tasks of the API process.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Expirer cancels reservations whose payment never completed.
type Expirer interface {
	ExpireStalePending(ctx context.Context) (int, error)
}

type Runner struct {
	sched gocron.Scheduler
}

// Start schedules the pending sweep every interval and starts the scheduler.
func Start(expirer Expirer, interval time.Duration) (*Runner, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { SweepPending(context.Background(), expirer) }),
		gocron.WithName("expire-pending-reservations"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	log.Printf("[jobs] scheduler started jobs=%d interval=%s", len(sched.Jobs()), interval)
	return &Runner{sched: sched}, nil
}

func (r *Runner) Stop() error {
	if r == nil || r.sched == nil {
		return nil
	}
	return r.sched.Shutdown()
}

// SweepPending runs one expiry pass and logs its outcome.
func SweepPending(ctx context.Context, expirer Expirer) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := expirer.ExpireStalePending(ctx)
	if err != nil {
		log.Printf("[jobs] expire pending failed err=%v", err)
		return 0
	}
	if n > 0 {
		log.Printf("[jobs] expired pending reservations count=%d", n)
	}
	return n
}
