/*
scheduler.go - Cron-driven batch job scheduler

PURPOSE:
  Runs the nightly batch jobs (deallocation sweep, return-from-leave status
  update) on cron schedules, and on demand from the HTTP API or the CLI.

DESIGN:
  - Each job is a JobFunc returning a generic.JobResult. The scheduler is the
    caller that reports failures: it hands failed results to
    keyworker.ReportFailure and records every run in batch_runs.
  - At most one run of a given job at a time. A trigger that arrives while the
    job is running gets ErrJobRunning instead of starting a second sweep.
  - Scheduled runs use the context given to Start. Stop cancels it, which
    aborts a deallocation backoff in progress, then waits for running jobs.

RUN RECORDS:
  running -> completed (summary JSON) | failed (error text)

USAGE:
  sched := NewJobScheduler(store, sink, logger)
  sched.Register(JobDeallocate, "0 2 * * *", DeallocationJob(engine))
  sched.Start(ctx)
  defer sched.Stop()

SEE ALSO:
  - handlers.go: Manual trigger endpoints
  - store/sqlite/runs.go: Batch-run persistence
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/store/sqlite"
)

// Job names, as recorded in batch_runs and used in URLs.
const (
	JobDeallocate   = "deallocate"
	JobUpdateStatus = "update-status"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// ErrJobRunning is returned when a job is triggered while it is still running.
var ErrJobRunning = errors.New("job already running")

// JobFunc runs one batch job to completion.
type JobFunc func(ctx context.Context) generic.JobResult[any]

// DeallocationJob adapts the deallocation sweep to a JobFunc.
func DeallocationJob(e *keyworker.DeallocationEngine) JobFunc {
	return func(ctx context.Context) generic.JobResult[any] {
		return erase(e.Run(ctx))
	}
}

// StatusUpdateJob adapts the return-from-leave update to a JobFunc.
func StatusUpdateJob(e *keyworker.StatusEngine) JobFunc {
	return func(ctx context.Context) generic.JobResult[any] {
		return erase(e.Run(ctx))
	}
}

func erase[T any](r generic.JobResult[T]) generic.JobResult[any] {
	if r.IsFailed() {
		return generic.Failed[any](r.Err)
	}
	return generic.Ok[any](r.Value)
}

// RunStore persists batch-run history.
type RunStore interface {
	SaveBatchRun(ctx context.Context, r sqlite.BatchRun) error
	ListBatchRuns(ctx context.Context, job string, limit int) ([]sqlite.BatchRun, error)
}

type scheduledJob struct {
	spec    string
	run     JobFunc
	entryID cron.EntryID
}

// JobScheduler owns the batch jobs, their schedules and their run history.
type JobScheduler struct {
	Runs   RunStore
	Sink   keyworker.EventSink
	Logger *slog.Logger
	Now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running map[string]bool
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobScheduler creates a scheduler with no jobs registered.
func NewJobScheduler(runs RunStore, sink keyworker.EventSink, logger *slog.Logger) *JobScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobScheduler{
		Runs:    runs,
		Sink:    sink,
		Logger:  logger.With("component", "scheduler"),
		jobs:    make(map[string]*scheduledJob),
		running: make(map[string]bool),
	}
}

// Register adds a job. An empty spec means manual triggers only.
func (s *JobScheduler) Register(name, spec string, run JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &scheduledJob{spec: spec, run: run}
}

// Jobs lists the registered job names in order.
func (s *JobScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start schedules every job that has a cron spec. Scheduled runs derive
// their context from ctx.
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New()
	for name, job := range s.jobs {
		if job.spec == "" {
			continue
		}
		id, err := c.AddFunc(job.spec, func() {
			if _, err := s.RunNow(ctx, name, TriggerSchedule); err != nil && !errors.Is(err, ErrJobRunning) {
				s.Logger.Error("scheduled run not started", "job", name, "error", err)
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("scheduling %s with %q: %w", name, job.spec, err)
		}
		job.entryID = id
		s.Logger.Info("job scheduled", "job", name, "spec", job.spec)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.wg.Wait()
	s.Logger.Info("scheduler stopped")
}

// NextRuns returns the next scheduled time of every scheduled job.
func (s *JobScheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]time.Time)
	if s.cron == nil {
		return next
	}
	for name, job := range s.jobs {
		if job.entryID == 0 {
			continue
		}
		next[name] = s.cron.Entry(job.entryID).Next
	}
	return next
}

// RunNow runs a job synchronously and returns its run record. A failed job
// is not an error here: the returned run has status failed. Errors mean the
// run never started.
func (s *JobScheduler) RunNow(ctx context.Context, name, trigger string) (sqlite.BatchRun, error) {
	job, err := s.acquire(name)
	if err != nil {
		return sqlite.BatchRun{}, err
	}
	defer s.release(name)

	run := sqlite.BatchRun{
		ID:        uuid.NewString(),
		Job:       name,
		Status:    sqlite.RunStatusRunning,
		Trigger:   trigger,
		StartedAt: s.now(),
	}
	if err := s.Runs.SaveBatchRun(ctx, run); err != nil {
		return sqlite.BatchRun{}, fmt.Errorf("saving run record: %w", err)
	}

	log := s.Logger.With("job", name, "runId", run.ID, "trigger", trigger)
	log.Info("job started")

	result := job.run(ctx)
	keyworker.ReportFailure(ctx, s.Sink, name, result)

	completed := s.now()
	run.CompletedAt = &completed
	if result.IsFailed() {
		run.Status = sqlite.RunStatusFailed
		run.Error = result.Err.Error()
		log.Error("job failed", "error", result.Err, "elapsed", completed.Sub(run.StartedAt))
	} else {
		run.Status = sqlite.RunStatusCompleted
		summary, err := json.Marshal(result.Value)
		if err != nil {
			return run, fmt.Errorf("encoding %s summary: %w", name, err)
		}
		run.SummaryJSON = string(summary)
		log.Info("job completed", "elapsed", completed.Sub(run.StartedAt))
	}

	// The job's own context may be cancelled by now; the record must still land.
	if err := s.Runs.SaveBatchRun(context.WithoutCancel(ctx), run); err != nil {
		return run, fmt.Errorf("updating run record: %w", err)
	}
	return run, nil
}

func (s *JobScheduler) acquire(name string) (*scheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", generic.ErrNotFound, name)
	}
	if s.running[name] {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	s.running[name] = true
	s.wg.Add(1)
	return job, nil
}

func (s *JobScheduler) release(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *JobScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
