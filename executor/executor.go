// Package executor provides the single-threaded cooperative scheduler that
// asynchronous tests run on.
//
// Every task gets its own goroutine, but only the task holding the baton
// executes. A task hands the baton over only at Yield, Sleep and Await, so at
// most one task body makes progress at a time, as on a single-core target.
package executor

import (
	"runtime"
	"time"
)

// Executor schedules the tasks of one test invocation. It is never torn down
// explicitly: the test ends the boot by exiting through the semihosting
// channel.
type Executor struct {
	baton chan struct{}
}

// New returns an idle executor.
func New() *Executor {
	e := &Executor{baton: make(chan struct{}, 1)}
	e.baton <- struct{}{}
	return e
}

// Task is the handle a running task uses to give up the baton.
type Task struct {
	e *Executor
}

func (e *Executor) acquire() { <-e.baton }
func (e *Executor) release() { e.baton <- struct{}{} }

// Spawn schedules fn as a new task. When called from a task, fn starts
// running once the caller yields.
func (e *Executor) Spawn(fn func(t *Task)) {
	go func() {
		e.acquire()
		defer e.release()
		fn(&Task{e: e})
	}()
}

// BlockOn runs fn as the main task and returns when it finishes. Tasks that
// fn spawned are not awaited. fn must recover its own panics.
func (e *Executor) BlockOn(fn func(t *Task)) {
	done := make(chan struct{})
	e.Spawn(func(t *Task) {
		defer close(done)
		fn(t)
	})
	<-done
}

// Yield lets other ready tasks run before t continues.
func (t *Task) Yield() {
	t.e.release()
	runtime.Gosched()
	t.e.acquire()
}

// Sleep suspends t for at least d.
func (t *Task) Sleep(d time.Duration) {
	t.e.release()
	time.Sleep(d)
	t.e.acquire()
}

// Await suspends t until ch is closed or receives a value.
func (t *Task) Await(ch <-chan struct{}) {
	t.e.release()
	<-ch
	t.e.acquire()
}

// Spawn schedules fn on the same executor as t.
func (t *Task) Spawn(fn func(t *Task)) {
	t.e.Spawn(fn)
}
