// Package scheduler runs configured agent instances on cron expressions,
// exactly once per due tick, with overlap suppression and stale-run
// recovery. The background loop also drains unprocessed prompt batches into
// the batch processor and prunes old activities, so a single daemon
// goroutine carries all of oakd's periodic housekeeping.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dotcommander/oakd/internal/app"
	"github.com/dotcommander/oakd/internal/llm"
	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/processor"
	"github.com/dotcommander/oakd/internal/store"
)

// Executor is the subset of processor.Backend a scheduled agent instance
// needs to run its template. internal/llm.Runner (wrapped by
// processor.NewCLIBackend) is the production implementation.
type Executor interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts processor.CompleteOpts) (string, error)
}

// Instance is one resolved agent instance: its cron schedule, the template
// it runs, and the backend that executes it.
type Instance struct {
	Name     string
	CronExpr string
	Template string
	Backend  Executor
}

// standardParser accepts the usual 5-field cron expressions (minute hour
// dom month dow), matching what operators expect from a config.yaml cron_expr.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func nextRunAt(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := standardParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}

// Config bounds the background loop's timing.
type Config struct {
	Interval               time.Duration
	StopTimeout            time.Duration
	WatchdogBuffer         time.Duration
	WatchdogDefaultTimeout time.Duration
}

// Scheduler runs configured agent instances on their cron expressions.
type Scheduler struct {
	db        *sql.DB
	instances map[string]Instance
	cfg       Config
}

// New constructs a Scheduler over the given resolved instances.
func New(db *sql.DB, instances []Instance, cfg Config) *Scheduler {
	m := make(map[string]Instance, len(instances))
	for _, inst := range instances {
		m[inst.Name] = inst
	}
	return &Scheduler{db: db, instances: m, cfg: cfg}
}

// NewInstancesFromConfig resolves each configured agent instance's CLI
// runner. An instance whose CLI tool can't be resolved (unknown agent type,
// binary missing from PATH) is skipped with a logged warning rather than
// failing daemon startup entirely -- the rest of oakd still works.
func NewInstancesFromConfig(cfgs []app.AgentInstanceConfig, defaultAgent string) []Instance {
	out := make([]Instance, 0, len(cfgs))
	for _, c := range cfgs {
		agentName := c.Agent
		if agentName == "" {
			agentName = defaultAgent
		}
		runner, err := llm.NewRunner(agentName)
		if err != nil {
			log.Printf("scheduler: instance %q: %v", c.Name, err)
			continue
		}
		out = append(out, Instance{
			Name:     c.Name,
			CronExpr: c.CronExpr,
			Template: c.Template,
			Backend:  processor.NewCLIBackend(runner),
		})
	}
	return out
}

// SyncSchedules ensures a schedule row exists for every configured instance
// with its next_run_at recomputed, and deletes rows for instances no longer
// configured. It never overwrites enabled, so an operator's pause/resume
// survives a config reload.
func (s *Scheduler) SyncSchedules() error {
	now := time.Now().UTC()
	names := make([]string, 0, len(s.instances))

	for name, inst := range s.instances {
		names = append(names, name)

		existing, err := store.GetAgentSchedule(s.db, name)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		enabled := true
		if existing != nil {
			enabled = existing.Enabled
		}

		next, err := nextRunAt(inst.CronExpr, now)
		if err != nil {
			log.Printf("scheduler: sync_schedules %q: %v", name, err)
			continue
		}
		if err := store.UpsertAgentSchedule(s.db, name, inst.CronExpr, enabled, next); err != nil {
			return err
		}
	}

	return store.DeleteSchedulesNotIn(s.db, names)
}

// GetDueSchedules returns every enabled schedule whose next_run_at has passed.
func (s *Scheduler) GetDueSchedules() ([]*models.AgentSchedule, error) {
	return store.DueSchedules(s.db, time.Now().UTC())
}

// RunOutcome reports what happened when a due schedule was dispatched.
type RunOutcome struct {
	InstanceName string
	Skipped      bool
	SkipReason   string
	RunID        int64
	Status       models.AgentRunStatus
	ErrorMessage string
}

// RunScheduledAgent implements run_scheduled_agent: overlap suppression,
// instance/template resolution, execution, and schedule-row bookkeeping.
func (s *Scheduler) RunScheduledAgent(ctx context.Context, sched *models.AgentSchedule) (RunOutcome, error) {
	running, err := store.IsAgentRunning(s.db, sched.InstanceName)
	if err != nil {
		return RunOutcome{}, err
	}
	if running {
		return RunOutcome{InstanceName: sched.InstanceName, Skipped: true, SkipReason: "already_running"}, nil
	}

	inst, ok := s.instances[sched.InstanceName]
	if !ok {
		return RunOutcome{
			InstanceName: sched.InstanceName,
			Skipped:      true,
			SkipReason:   "missing_instance",
			ErrorMessage: fmt.Sprintf("instance %q is not configured", sched.InstanceName),
		}, nil
	}

	run, err := store.CreateAgentRun(s.db, sched.InstanceName, inst.Template)
	if err != nil {
		return RunOutcome{}, err
	}
	if err := store.StartAgentRun(s.db, run.ID); err != nil {
		// Lost the race against a concurrently started run for this instance.
		return RunOutcome{InstanceName: sched.InstanceName, Skipped: true, SkipReason: "already_running", RunID: run.ID}, nil
	}

	status := models.AgentRunStatusCompleted
	result := store.AgentRunResult{}
	if _, err := inst.Backend.Complete(ctx, "", inst.Template, processor.CompleteOpts{}); err != nil {
		status = models.AgentRunStatusFailed
		result.ErrorMessage = err.Error()
	}
	// CLI agent backends report no structured cost/turn/file metrics (unlike
	// the HTTP extraction backend's token usage); those fields stay zero.

	if err := store.CompleteAgentRun(s.db, run.ID, status, result); err != nil {
		return RunOutcome{}, err
	}

	next, err := nextRunAt(sched.CronExpr, time.Now().UTC())
	if err != nil {
		// Cron expression went bad between sync passes; retry in an hour and
		// let the next sync_schedules surface the real error via its log line.
		next = time.Now().UTC().Add(time.Hour)
	}
	if err := store.RecordScheduleRun(s.db, sched.InstanceName, run.ID, next); err != nil {
		return RunOutcome{}, err
	}

	return RunOutcome{InstanceName: sched.InstanceName, RunID: run.ID, Status: status, ErrorMessage: result.ErrorMessage}, nil
}

// CheckAndRun fans out sequentially over every due schedule. A single
// instance's failure is logged and does not stop the others.
func (s *Scheduler) CheckAndRun(ctx context.Context) []RunOutcome {
	due, err := s.GetDueSchedules()
	if err != nil {
		log.Printf("scheduler: get_due_schedules: %v", err)
		return nil
	}

	outcomes := make([]RunOutcome, 0, len(due))
	for _, sched := range due {
		out, err := s.RunScheduledAgent(ctx, sched)
		if err != nil {
			log.Printf("scheduler: run_scheduled_agent %q: %v", sched.InstanceName, err)
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}
