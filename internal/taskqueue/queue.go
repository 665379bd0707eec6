// Package taskqueue provides single-threaded cooperative task queues.
//
// Every selector, tracker and the cross-SIM controller owns exactly one Executor.
// All state of such a component is touched only from tasks running on its executor,
// so timer expiries and state updates are ordered by queue order and never race.
package taskqueue

import (
	"container/heap"
	"errors"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("taskqueue: closed")

// Executor runs posted tasks one at a time.
//
// Tasks run in deadline order; tasks with equal deadlines run in posting order.
type Executor interface {
	// Post queues fn to run as soon as possible. It returns false if the executor is closed.
	Post(fn func()) bool
	// PostDelayed queues fn to run after d. The returned Timer cancels it.
	// A closed executor returns a Timer that is already stopped.
	PostDelayed(d time.Duration, fn func()) *Timer
	// Now is the executor's clock.
	Now() time.Time
}

// Queue is an Executor that owns resources released by Close.
type Queue interface {
	Executor
	Close() error
}

// Timer is a handle to a delayed task.
//
// Stop removes the task if it has not started. Handlers still check their own
// "still relevant" guard because a Stop issued from another goroutine can lose the
// race against a task that was already dequeued.
type Timer struct {
	state atomic.Int32
}

const (
	timerPending int32 = iota
	timerStarted
	timerCanceled
)

// Stop cancels the task. It reports whether the call prevented the task from running.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.state.CompareAndSwap(timerPending, timerCanceled)
}

// Pending reports whether the task is still queued.
func (t *Timer) Pending() bool {
	return t != nil && t.state.Load() == timerPending
}

func (t *Timer) canceled() bool { return t.state.Load() == timerCanceled }

func stoppedTimer() *Timer {
	t := &Timer{}
	t.state.Store(timerCanceled)
	return t
}

type entry struct {
	when  time.Time
	seq   uint64
	fn    func()
	timer *Timer
}

// claim marks the entry as started; false means it was canceled.
func (e *entry) claim() bool {
	if e.timer == nil {
		return true
	}
	return e.timer.state.CompareAndSwap(timerPending, timerStarted)
}

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func (h *taskHeap) push(e *entry) { heap.Push(h, e) }
func (h *taskHeap) pop() *entry   { return heap.Pop(h).(*entry) }
func (h taskHeap) peek() *entry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// dropCanceled removes canceled entries sitting at the head of the heap.
func (h *taskHeap) dropCanceled() {
	for len(*h) > 0 {
		e := (*h)[0]
		if e.timer == nil || !e.timer.canceled() {
			return
		}
		heap.Pop(h)
	}
}
