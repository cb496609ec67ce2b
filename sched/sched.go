// Package sched runs suspendable tasks on a small worker pool.
//
// A task is an explicit state machine: every call to Step performs
// work that cannot block and returns an Action telling the scheduler
// what comes next. I/O that cannot progress yet is expressed as
// Await on a readiness channel; the task is resumed once it fires.
// Failures are routed through the task's HandleError before the task
// completes, so cleanup happens no matter which step raised.
package sched

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// ErrSchedulerClosed fails tasks handed to a scheduler that has been
// closed.
var ErrSchedulerClosed = errors.New("scheduler is closed")

type actionKind uint8

const (
	actionContinue actionKind = iota
	actionAwait
	actionDone
	actionFail
)

// Action is the outcome of one task step.
type Action struct {
	kind actionKind
	wait <-chan struct{}
	err  error
}

// Continue runs the next step immediately.
func Continue() Action { return Action{kind: actionContinue} }

// Await suspends the task until ready fires or is closed.
func Await(ready <-chan struct{}) Action { return Action{kind: actionAwait, wait: ready} }

// Done completes the task successfully.
func Done() Action { return Action{kind: actionDone} }

// Fail completes the task with an error, after routing it through the
// task's error interceptor.
func Fail(err error) Action { return Action{kind: actionFail, err: err} }

// Task is a suspendable unit of work.
//
// HandleError is the uniform error interceptor: the scheduler calls it
// with the failing error before completing the task, whichever step
// the error came from. The returned error is what the submitter sees.
type Task interface {
	Step() Action
	HandleError(err error) error
}

type entry struct {
	task   Task
	finish func(err error)
}

// Scheduler multiplexes many suspended tasks over a fixed number of
// worker goroutines. Workers never sleep inside a task: a suspended
// task frees its worker until the awaited channel fires.
type Scheduler struct {
	runnable chan *entry
	quit     chan struct{}

	workers sync.WaitGroup
	parked  sync.WaitGroup

	logger *slog.Logger

	once sync.Once
}

func New(workers uint, logger *slog.Logger) *Scheduler {
	if workers == 0 {
		workers = 1
	}

	s := &Scheduler{
		runnable: make(chan *entry),
		quit:     make(chan struct{}),
		logger:   logger,
	}

	for i := uint(0); i < workers; i++ {
		s.workers.Add(1)
		go s.work()
	}

	return s
}

// Submit hands a task to the pool. finish is called exactly once when
// the task completes; it may be nil. Submitting to a closed scheduler
// fails the task with [ErrSchedulerClosed], routed through its error
// interceptor like any other failure.
func (s *Scheduler) Submit(task Task, finish func(err error)) {
	if finish == nil {
		finish = func(error) {}
	}

	s.enqueue(&entry{task: task, finish: finish})
}

// Close stops the workers. Parked tasks are abandoned; running steps
// finish first.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.quit) })
	s.parked.Wait()
	s.workers.Wait()
}

func (s *Scheduler) enqueue(e *entry) {
	select {
	case s.runnable <- e:
	case <-s.quit:
		// The task never ran (or never resumed); its interceptor still
		// gets to clean up before the submitter hears about it.
		e.finish(e.task.HandleError(ErrSchedulerClosed))
	}
}

func (s *Scheduler) work() {
	defer s.workers.Done()

	for {
		select {
		case <-s.quit:
			return
		case e := <-s.runnable:
			s.run(e)
		}
	}
}

func (s *Scheduler) run(e *entry) {
	for {
		action := e.task.Step()

		switch action.kind {
		case actionContinue:
			continue

		case actionAwait:
			s.park(e, action.wait)
			return

		case actionDone:
			e.finish(nil)
			return

		case actionFail:
			e.finish(e.task.HandleError(action.err))
			return
		}
	}
}

// park registers the resume callback for a suspended task.
func (s *Scheduler) park(e *entry, ready <-chan struct{}) {
	s.parked.Add(1)
	go func() {
		defer s.parked.Done()
		select {
		case <-ready:
			s.enqueue(e)
		case <-s.quit:
			if s.logger != nil {
				s.logger.Debug("abandoning parked task on scheduler close")
			}
		}
	}()
}
