package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nobiflow/config"
	"nobiflow/internal/model"
	"nobiflow/logger"
)

// Outcome is the terminal state of one job execution.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Executor performs the actual fetch-and-persist work for a job. The
// scheduler never inspects records; it only cares whether the execution
// succeeded.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// Budget gates job dispatch. A denied request costs nothing and the job
// retries on the next tick.
type Budget interface {
	TryConsume(resource model.Resource) bool
}

// JobStatus is a read-only view of one job's state, served by the API.
type JobStatus struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Symbol      string    `json:"symbol,omitempty"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"lastRun"`
	LastOutcome Outcome   `json:"lastOutcome,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	Skips       int64     `json:"skips"`
}

type jobEntry struct {
	job         Job
	running     bool
	lastRun     time.Time
	lastOutcome Outcome
	lastErr     error
	runs        int64
	failures    int64
	skips       int64
}

type result struct {
	idx     int
	started time.Time
	err     error
}

// Scheduler drives the static job set with a fixed-interval tick. Job
// state is mutated only inside the run loop; executions report back
// through the results channel so a slow job never blocks the tick.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []*jobEntry
	tick    time.Duration
	grace   time.Duration
	exec    Executor
	budget  Budget
	log     *logger.Log
	results    chan result
	cancel     context.CancelFunc
	execCancel context.CancelFunc
	wg         sync.WaitGroup
	execWG     sync.WaitGroup
	running    bool
}

func New(cfg config.SchedulerConfig, jobs []Job, exec Executor, budget Budget) *Scheduler {
	entries := make([]*jobEntry, len(jobs))
	for i, j := range jobs {
		entries[i] = &jobEntry{job: j}
	}
	return &Scheduler{
		jobs:    entries,
		tick:    cfg.Tick,
		grace:   cfg.ShutdownGrace,
		exec:    exec,
		budget:  budget,
		log:     logger.GetLogger(),
		results: make(chan result, len(jobs)+1),
	}
}

// Start launches the run loop. It is an error to start twice.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if len(s.jobs) == 0 {
		return fmt.Errorf("scheduler has no jobs")
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Executions get a context that survives loop cancellation, so an
	// in-flight fetch keeps running through the shutdown grace period
	// instead of being aborted the moment Stop is called.
	execCtx, execCancel := context.WithCancel(context.WithoutCancel(ctx))
	s.execCancel = execCancel

	s.wg.Add(1)
	go s.run(runCtx, execCtx)

	s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"jobs": len(s.jobs),
		"tick": s.tick.String(),
	}).Info("scheduler started")
	return nil
}

// Stop halts dispatch and lets in-flight executions finish within the
// shutdown grace period. Only executions still running when the grace
// expires are cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	execCancel := s.execCancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	drained := make(chan struct{})
	go func() {
		s.execWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.WithComponent("scheduler").Info("scheduler stopped")
	case <-time.After(s.grace):
		s.log.WithComponent("scheduler").Warn("shutdown grace expired, cancelling in-flight executions")
		execCancel()
		<-drained
	}
	execCancel()
}

func (s *Scheduler) run(ctx, execCtx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Fire immediately so a fresh process does not idle a full tick.
	s.dispatchDue(execCtx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.results:
			s.finalize(res)
		case now := <-ticker.C:
			s.drainResults()
			s.dispatchDue(execCtx, now)
		}
	}
}

func (s *Scheduler) drainResults() {
	for {
		select {
		case res := <-s.results:
			s.finalize(res)
		default:
			return
		}
	}
}

// dispatchDue scans the job set once. A job is due when it is not
// already running and its interval has elapsed since its last completed
// start. A budget denial marks the tick skipped without advancing
// lastRun, so the job comes due again on the next tick.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range s.jobs {
		if entry.running || now.Sub(entry.lastRun) < entry.job.Interval {
			continue
		}

		if !s.budget.TryConsume(entry.job.Resource) {
			entry.lastOutcome = OutcomeSkipped
			entry.skips++
			s.log.WithComponent("scheduler").WithFields(logger.Fields{
				"job": entry.job.ID,
			}).Debug("budget exhausted, job skipped")
			s.log.LogMetric("scheduler", "jobs_skipped", 1, "count",
				logger.Fields{"resource": entry.job.Resource.String()})
			continue
		}

		entry.running = true
		idx, job, started := i, entry.job, now
		s.execWG.Add(1)
		go func() {
			defer s.execWG.Done()
			err := s.exec.Execute(ctx, job)
			select {
			case s.results <- result{idx: idx, started: started, err: err}:
			case <-ctx.Done():
			}
		}()
	}
}

func (s *Scheduler) finalize(res result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.jobs[res.idx]
	entry.running = false
	entry.lastRun = res.started
	entry.runs++
	entry.lastErr = res.err

	fields := logger.Fields{"resource": entry.job.Resource.String()}
	if res.err != nil {
		entry.lastOutcome = OutcomeFailed
		entry.failures++
		s.log.WithComponent("scheduler").WithError(res.err).WithFields(logger.Fields{
			"job": entry.job.ID,
		}).Error("job failed")
		s.log.LogMetric("scheduler", "jobs_failed", 1, "count", fields)
		return
	}
	entry.lastOutcome = OutcomeSucceeded
	s.log.LogMetric("scheduler", "jobs_succeeded", 1, "count", fields)
}

// Snapshot returns the current state of every job.
func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, len(s.jobs))
	for i, entry := range s.jobs {
		st := JobStatus{
			ID:          entry.job.ID,
			Resource:    entry.job.Resource.String(),
			Symbol:      entry.job.Symbol,
			Running:     entry.running,
			LastRun:     entry.lastRun,
			LastOutcome: entry.lastOutcome,
			Runs:        entry.runs,
			Failures:    entry.failures,
			Skips:       entry.skips,
		}
		if entry.lastErr != nil {
			st.LastError = entry.lastErr.Error()
		}
		statuses[i] = st
	}
	return statuses
}
