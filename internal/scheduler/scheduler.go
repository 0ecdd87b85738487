// Package scheduler implements spec §4.2: a dual intake (WFQ for steady
// traffic, EDF for deadline-bearing work) feeding a bounded worker pool.
// EDF is strictly prioritized over WFQ (spec.md Open Question ii resolves
// the ambiguity this way), and a worker slot is only consumed once a task
// actually starts running so an expired deadline can be dropped for free.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
	"github.com/slicingmelon/gofetch-mcp/internal/gflog"
)

// Task is one unit of schedulable work (spec §3 Request, reduced to what
// the scheduler itself needs to order and run it).
type Task struct {
	Fn       func(ctx context.Context)
	Class    string    // WFQ traffic class; ignored when Deadline is set
	Cost     float64   // L_i; defaults to 1 if <= 0
	Deadline time.Time // zero value means "no deadline, goes to WFQ"

	finishTime float64 // WFQ virtual finish time, set on enqueue
	heapIdx    int     // container/heap bookkeeping for the EDF queue

	// cancelled is spec §5's "per-request cancellation flag observed at
	// each await point": set by SubmitWait when its caller gives up before
	// dispatch, checked by dispatchLoop right before Fn would run so a
	// cancelled request never consumes a worker slot, rate-limit token,
	// breaker probe, or pooled connection it would otherwise borrow inside
	// Fn.
	cancelled atomic.Bool
}

// Config bounds the dispatcher and declares WFQ class weights.
type Config struct {
	MaxConcurrent int
	ClassWeights  map[string]float64
	DefaultWeight float64
}

func DefaultConfig() Config {
	return Config{MaxConcurrent: 64, DefaultWeight: 1}
}

// Scheduler is spec §4.2's dual-intake dispatcher. Submit is safe for
// concurrent producers; exactly one internal dispatcher goroutine drains
// both intakes and hands work to the pond-backed worker pool.
type Scheduler struct {
	cfg  Config
	pool pond.Pool

	mu      sync.Mutex
	v       float64 // system virtual clock, advanced on WFQ dequeue
	classes map[string]*wfqClass
	edf     edfQueue

	tokens chan struct{} // one buffered slot per worker; gates dispatch, not submission
	wake   chan struct{} // signalled on every Submit so the dispatcher can stop blocking

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = 1
	}
	s := &Scheduler{
		cfg:     cfg,
		pool:    pond.NewPool(cfg.MaxConcurrent),
		classes: make(map[string]*wfqClass),
		tokens:  make(chan struct{}, cfg.MaxConcurrent),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for i := 0; i < cfg.MaxConcurrent; i++ {
		s.tokens <- struct{}{}
	}
	go s.dispatchLoop()
	return s
}

func (s *Scheduler) classFor(name string) *wfqClass {
	if c, ok := s.classes[name]; ok {
		return c
	}
	w := s.cfg.DefaultWeight
	if cw, ok := s.cfg.ClassWeights[name]; ok && cw > 0 {
		w = cw
	}
	c := &wfqClass{weight: w}
	s.classes[name] = c
	return c
}

// Submit enqueues t into EDF (if it carries a deadline) or WFQ (otherwise),
// per spec §4.2 "Any request with a deadline present enters EDF; others
// enter WFQ."
func (s *Scheduler) Submit(t *Task) {
	if t.Cost <= 0 {
		t.Cost = 1
	}
	s.mu.Lock()
	if !t.Deadline.IsZero() {
		s.edf.pushTask(t)
	} else {
		s.classFor(t.Class).push(t, s.v)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popNext selects the next task per spec §4.2's strict EDF-over-WFQ
// priority, advancing the virtual clock on a WFQ dequeue.
func (s *Scheduler) popNext() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edf.peekTask(); ok {
		return s.edf.popTask()
	}

	var bestClass *wfqClass
	var bestFinish float64
	for _, c := range s.classes {
		if t, ok := c.peek(); ok {
			if bestClass == nil || t.finishTime < bestFinish {
				bestClass = c
				bestFinish = t.finishTime
			}
		}
	}
	if bestClass == nil {
		return nil
	}
	s.v = bestFinish
	return bestClass.pop()
}

func (s *Scheduler) dispatchLoop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.tokens:
		}

		t := s.popNext()
		if t == nil {
			s.tokens <- struct{}{}
			select {
			case <-s.wake:
			case <-s.stopCh:
				return
			}
			continue
		}

		if deadlinePassed(t, time.Now()) {
			s.tokens <- struct{}{}
			gflog.Debug().Msgf("scheduler: dropping expired-deadline task")
			continue
		}

		if t.cancelled.Load() {
			s.tokens <- struct{}{}
			gflog.Debug().Msgf("scheduler: dropping cancelled task before dispatch")
			continue
		}

		s.pool.Submit(func() {
			defer func() { s.tokens <- struct{}{} }()
			if t.cancelled.Load() {
				gflog.Debug().Msgf("scheduler: dropping cancelled task before run")
				return
			}
			t.Fn(context.Background())
		})
	}
}

// SubmitWait blocks until t has run (or the ctx is cancelled before it
// gets a chance to), returning ferrors.NewCancelled for the latter. On
// cancellation it also flips t.cancelled so dispatchLoop skips Fn if t
// hasn't been dispatched yet (spec §5: a cancelled request releases its
// worker slot, dedup slot, and any borrowed connection instead of still
// consuming them after the caller gave up). Most internal/fetch call
// sites want this synchronous form rather than raw fire-and-forget
// Submit.
func (s *Scheduler) SubmitWait(ctx context.Context, t *Task) error {
	done := make(chan struct{})
	inner := t.Fn
	t.Fn = func(taskCtx context.Context) {
		inner(taskCtx)
		close(done)
	}
	s.Submit(t)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.cancelled.Store(true)
		return ferrors.NewCancelled()
	}
}

func (s *Scheduler) Close() {
	close(s.stopCh)
	<-s.doneCh
	s.pool.StopAndWait()
}

// Stats reports dispatcher-level counters for observability (spec §6
// Resources, scheduler metrics).
type Stats struct {
	RunningWorkers int64
	SubmittedTasks uint64
	WaitingTasks   uint64
	CompletedTasks uint64
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		RunningWorkers: s.pool.RunningWorkers(),
		SubmittedTasks: s.pool.SubmittedTasks(),
		WaitingTasks:   s.pool.WaitingTasks(),
		CompletedTasks: s.pool.CompletedTasks(),
	}
}
