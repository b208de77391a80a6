package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"firecore/store"
)

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Skip reasons.
const (
	ReasonNoUnits   = "resource_unavailable"
	ReasonCancelled = "dispatch_cancelled"
	ReasonUnitCap   = "unit_cap_reached"
)

// Outcome is the observable result of one background assignment run.
type Outcome struct {
	DispatchID  int64               `json:"dispatch_id"`
	Kind        OutcomeKind         `json:"kind"`
	Reason      string              `json:"reason,omitempty"`
	Assignments []*store.Assignment `json:"assignments"`
	Escalation  *store.Escalation   `json:"escalation,omitempty"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
	FinishedAt  time.Time           `json:"finished_at"`
}

func failure(dispatchID int64, err error) Outcome {
	return Outcome{DispatchID: dispatchID, Kind: OutcomeFailure, Err: err}
}

// Task is a handle on a scheduled assignment run.
type Task struct {
	DispatchID int64
	done       chan struct{}
	outcome    Outcome
	rejected   bool
}

func newTask(dispatchID int64) *Task {
	return &Task{DispatchID: dispatchID, done: make(chan struct{})}
}

func (t *Task) finish(o Outcome) {
	o.DispatchID = t.DispatchID
	if o.Err != nil {
		o.Error = o.Err.Error()
	}
	o.FinishedAt = time.Now().UTC()
	t.outcome = o
	close(t.done)
}

// Done is closed once the outcome is available.
func (t *Task) Done() <-chan struct{} { return t.done }

// Rejected reports whether the scheduler refused the task without running it.
func (t *Task) Rejected() bool { return t.rejected }

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type job struct {
	task *Task
	fn   func(ctx context.Context) Outcome
}

// Scheduler runs assignment tasks on a bounded worker pool so planning never
// waits for assignment.
type Scheduler struct {
	workers int
	queue   chan job
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	latest  map[int64]Outcome
}

func NewScheduler(workers, queueSize int, logger zerolog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		workers: workers,
		queue:   make(chan job, queueSize),
		log:     logger.With().Str("component", "scheduler").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		latest:  make(map[int64]Outcome),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop cancels running tasks and waits for workers to exit. Queued tasks
// finish with ErrSchedulerStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	for {
		select {
		case j := <-s.queue:
			s.complete(j.task, failure(j.task.DispatchID, ErrSchedulerStopped))
		default:
			return
		}
	}
}

// Submit queues fn for dispatchID and returns immediately. A full queue or a
// stopped scheduler completes the task at once with a failure outcome.
func (s *Scheduler) Submit(dispatchID int64, fn func(ctx context.Context) Outcome) *Task {
	t := newTask(dispatchID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		t.rejected = true
		s.completeLocked(t, failure(dispatchID, ErrSchedulerStopped))
		return t
	}
	select {
	case s.queue <- job{task: t, fn: fn}:
	default:
		s.log.Warn().Int64("dispatch_id", dispatchID).Msg("queue full, assignment not scheduled")
		t.rejected = true
		s.completeLocked(t, failure(dispatchID, ErrQueueFull))
	}
	return t
}

// LastOutcome returns the most recent finished outcome for a dispatch.
func (s *Scheduler) LastOutcome(dispatchID int64) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.latest[dispatchID]
	return o, ok
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.queue:
			s.complete(j.task, s.run(j))
		}
	}
}

func (s *Scheduler) run(j job) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int64("dispatch_id", j.task.DispatchID).Msg("assignment task panicked")
			o = failure(j.task.DispatchID, fmt.Errorf("dispatch: task panic: %v", r))
		}
	}()
	return j.fn(s.ctx)
}

func (s *Scheduler) complete(t *Task, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeLocked(t, o)
}

func (s *Scheduler) completeLocked(t *Task, o Outcome) {
	t.finish(o)
	s.latest[t.DispatchID] = t.outcome
}
