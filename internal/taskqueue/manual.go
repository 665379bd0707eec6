package taskqueue

import (
	"sync"
	"time"
)

// Manual is a deterministic Executor driven by a virtual clock.
// Nothing runs until RunPending or Advance is called.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	tasks  taskHeap
	seq    uint64
	closed bool
}

func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Unix(1700000000, 0).UTC()
	}
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.seq++
	m.tasks.push(&entry{when: m.now, seq: m.seq, fn: fn})
	return true
}

func (m *Manual) PostDelayed(d time.Duration, fn func()) *Timer {
	if fn == nil {
		return stoppedTimer()
	}
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return stoppedTimer()
	}
	t := &Timer{}
	m.seq++
	m.tasks.push(&entry{when: m.now.Add(d), seq: m.seq, fn: fn, timer: t})
	return t
}

// RunPending runs every task that is due, including tasks posted by those tasks.
// It returns the number of tasks run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		m.tasks.dropCanceled()
		next := m.tasks.peek()
		if next == nil || next.when.After(m.now) {
			m.mu.Unlock()
			return n
		}
		m.tasks.pop()
		m.mu.Unlock()

		if next.claim() {
			next.fn()
			n++
		}
	}
}

// Advance moves the clock forward by d, running tasks in deadline order as their
// deadlines are reached.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	n := m.RunPending()
	for {
		m.mu.Lock()
		m.tasks.dropCanceled()
		next := m.tasks.peek()
		if next == nil || next.when.After(target) {
			m.now = target
			m.mu.Unlock()
			return n + m.RunPending()
		}
		if next.when.After(m.now) {
			m.now = next.when
		}
		m.mu.Unlock()
		n += m.RunPending()
	}
}

// Pending is the number of queued tasks that have not been canceled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.tasks {
		if e.timer == nil || !e.timer.canceled() {
			n++
		}
	}
	return n
}

// Close drops queued tasks; later posts are rejected.
func (m *Manual) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.tasks = nil
	return nil
}
