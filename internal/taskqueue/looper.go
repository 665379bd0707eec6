package taskqueue

import (
	"log/slog"
	"sync"
	"time"
)

// Looper is an Executor backed by a single goroutine.
type Looper struct {
	name string
	log  *slog.Logger

	mu     sync.Mutex
	tasks  taskHeap
	seq    uint64
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewLooper starts a looper goroutine. Close must be called to stop it.
func NewLooper(name string, log *slog.Logger) *Looper {
	if log == nil {
		log = slog.Default()
	}
	l := &Looper{
		name: name,
		log:  log.With("looper", name),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

func (l *Looper) Now() time.Time { return time.Now() }

func (l *Looper) Post(fn func()) bool {
	return l.enqueue(0, fn, nil)
}

func (l *Looper) PostDelayed(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	t := &Timer{}
	if !l.enqueue(d, fn, t) {
		return stoppedTimer()
	}
	return t
}

// enqueue stamps the deadline and sequence under one lock so a later post
// never sorts ahead of an earlier one with the same delay.
func (l *Looper) enqueue(delay time.Duration, fn func(), t *Timer) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	when := time.Now().Add(delay)
	l.seq++
	l.tasks.push(&entry{when: when, seq: l.seq, fn: fn, timer: t})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops the looper and waits for the running task to return.
// Queued tasks are dropped.
func (l *Looper) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.tasks = nil
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	return nil
}

func (l *Looper) loop() {
	defer l.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		l.mu.Lock()
		l.tasks.dropCanceled()
		next := l.tasks.peek()
		if next == nil {
			l.mu.Unlock()
			select {
			case <-l.wake:
				continue
			case <-l.done:
				return
			}
		}

		wait := time.Until(next.when)
		if wait > 0 {
			l.mu.Unlock()
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			select {
			case <-timer.C:
			case <-l.wake:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-l.done:
				return
			}
			continue
		}

		l.tasks.pop()
		l.mu.Unlock()

		if next.claim() {
			l.run(next.fn)
		}
	}
}

func (l *Looper) run(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("task panicked", "panic", p)
		}
	}()
	fn()
}
