package clock

import (
	"context"
	"sync"
	"time"
)

// EventLoop is a wall-clock Loop backed by one goroutine. Timers fire on
// their own goroutines and hand their callbacks to the loop, so callbacks
// never run concurrently.
type EventLoop struct {
	queue   chan func()
	done    chan struct{}
	stop    sync.Once
	workers sync.WaitGroup
}

// NewEventLoop returns a loop whose queue holds up to buffer callbacks.
func NewEventLoop(buffer int) *EventLoop {
	if buffer < 1 {
		buffer = 1
	}
	return &EventLoop{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run processes callbacks until ctx is canceled. Callbacks posted after
// Run returns are dropped.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.stop.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-l.queue:
			f()
		}
	}
}

// Post queues f to run on the loop. It reports false once the loop has stopped.
func (l *EventLoop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- f:
		return true
	case <-l.done:
		return false
	}
}

// Call runs f on the loop and waits for it to return. It reports false if
// the loop stopped first.
func (l *EventLoop) Call(f func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Now returns the wall-clock time.
func (l *EventLoop) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f on the loop after d.
func (l *EventLoop) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		l.Post(f)
	})
}

// Go runs work on a new goroutine and posts its completion to the loop.
func (l *EventLoop) Go(work func() func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		if apply := work(); apply != nil {
			l.Post(apply)
		}
	}()
}

// Wait blocks until every goroutine started by Go has finished.
func (l *EventLoop) Wait() {
	l.workers.Wait()
}
