package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/processor"
	"github.com/dotcommander/oakd/internal/store"
)

// batchDrainLimit bounds how many unprocessed prompt batches one background
// cycle pulls through the processor, keeping a single slow extraction call
// from starving the rest of that cycle's work.
const batchDrainLimit = 20

// Run is the cooperative background loop: it wakes every cfg.Interval to
// sync schedules, recover stale runs, dispatch due agents, drain unprocessed
// prompt batches into proc, and prune old activities. A single cycle's
// errors are logged and never stop the loop. Run returns once stop is
// closed or ctx is done; on stop it waits up to cfg.StopTimeout for an
// in-flight cycle to finish before returning anyway.
func (s *Scheduler) Run(ctx context.Context, stop <-chan struct{}, proc *processor.Processor) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	cycleDone := make(chan struct{}, 1)
	cycleDone <- struct{}{}

	for {
		select {
		case <-stop:
			select {
			case <-cycleDone:
			case <-time.After(s.cfg.StopTimeout):
				log.Printf("scheduler: shutdown timeout exceeded waiting for in-flight cycle")
			}
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-cycleDone:
				go func() {
					s.runCycle(ctx, proc)
					cycleDone <- struct{}{}
				}()
			default:
				// Previous cycle is still running; skip this tick rather than overlap.
			}
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, proc *processor.Processor) {
	if err := s.SyncSchedules(); err != nil {
		log.Printf("scheduler: sync_schedules: %v", err)
	}
	if recovered, err := store.RecoverStaleRuns(s.db, s.cfg.WatchdogBuffer, s.cfg.WatchdogDefaultTimeout); err != nil {
		log.Printf("scheduler: recover_stale_runs: %v", err)
	} else if recovered > 0 {
		log.Printf("scheduler: recovered %d stale run(s)", recovered)
	}

	s.CheckAndRun(ctx)

	if proc != nil {
		s.drainBatches(ctx, proc)
	}

	maint := app.EffectiveEventMaintenanceSettings()
	if _, err := store.PruneOldActivities(s.db, maint.RetentionDays, maint.PruneBatch); err != nil {
		log.Printf("scheduler: prune_old_activities: %v", err)
	}
}

func (s *Scheduler) drainBatches(ctx context.Context, proc *processor.Processor) {
	batches, err := store.UnprocessedBatches(s.db, batchDrainLimit)
	if err != nil {
		log.Printf("scheduler: unprocessed_batches: %v", err)
		return
	}
	for _, b := range batches {
		if err := proc.ProcessBatch(ctx, b.ID); err != nil {
			log.Printf("scheduler: process_batch %d: %v", b.ID, err)
		}
	}
}
