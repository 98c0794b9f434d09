package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

func TestManualFiresInOrder(t *testing.T) {
	m := NewManual(epoch)
	var got []string
	m.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	m.AfterFunc(time.Second, func() { got = append(got, "a") })
	m.AfterFunc(2*time.Second, func() { got = append(got, "c") })
	stopped := m.AfterFunc(1500*time.Millisecond, func() { got = append(got, "stopped") })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())

	m.Advance(1999 * time.Millisecond)
	assert.Equal(t, []string{"a"}, got)

	m.Advance(time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(2*time.Second), m.Now())
	assert.Zero(t, m.Pending())
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	m := NewManual(epoch)
	var fired []time.Duration
	m.AfterFunc(time.Second, func() {
		fired = append(fired, m.Now().Sub(epoch))
		m.AfterFunc(time.Second, func() {
			fired = append(fired, m.Now().Sub(epoch))
		})
	})
	m.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fired)
}

func TestManualNextAndGo(t *testing.T) {
	m := NewManual(epoch)
	var order []string
	m.Go(func() func() {
		order = append(order, "work")
		return func() { order = append(order, "apply") }
	})
	assert.Equal(t, []string{"work"}, order)
	m.AfterFunc(time.Minute, func() { order = append(order, "timer") })

	require.True(t, m.Next())
	assert.Equal(t, []string{"work", "apply", "timer"}, order)
	assert.Equal(t, epoch.Add(time.Minute), m.Now())
	assert.False(t, m.Next())
}

func TestTrialClockWindows(t *testing.T) {
	m := NewManual(epoch)
	c := NewTrialClock(m, nil)
	var displayEnd, timeout int
	c.StartTrial(time.Second, 2*time.Second, func(Token) { displayEnd++ }, func(Token) { timeout++ })

	m.Advance(time.Second)
	assert.Equal(t, 1, displayEnd)
	assert.True(t, c.Displayed())
	assert.Zero(t, timeout)

	m.Advance(2 * time.Second)
	assert.Equal(t, 1, timeout)
}

func TestTrialClockResolveKeepsDisplayTimer(t *testing.T) {
	m := NewManual(epoch)
	c := NewTrialClock(m, nil)
	var displayEnd, timeout int
	tok := c.StartTrial(time.Second, time.Second, func(Token) { displayEnd++ }, func(Token) { timeout++ })

	m.Advance(300 * time.Millisecond)
	remaining, ok := c.Resolve(tok)
	require.True(t, ok)
	assert.Equal(t, 1700*time.Millisecond, remaining)

	m.Advance(5 * time.Second)
	assert.Equal(t, 1, displayEnd, "display removal still happens at the nominal boundary")
	assert.Zero(t, timeout, "timeout is canceled by the response")
}

func TestTrialClockResolveAfterWindowHasNoRemainder(t *testing.T) {
	m := NewManual(epoch)
	c := NewTrialClock(m, nil)
	tok := c.StartTrial(time.Second, time.Second, func(Token) {}, func(Token) {})
	m.Advance(2 * time.Second)
	remaining, ok := c.Resolve(tok)
	require.True(t, ok)
	assert.Zero(t, remaining)
}

func TestTrialClockStaleTimersAreNoOps(t *testing.T) {
	m := NewManual(epoch)
	var stale []string
	c := NewTrialClock(m, func(kind string, scheduled, current Token) {
		stale = append(stale, kind)
	})

	var staleCalls, freshCalls int
	first := c.StartTrial(time.Second, time.Second, func(Token) { staleCalls++ }, func(Token) { staleCalls++ })
	c.After(500*time.Millisecond, func() { staleCalls++ })
	second := c.StartTrial(time.Second, time.Second, func(Token) { freshCalls++ }, func(Token) { freshCalls++ })
	require.NotEqual(t, first, second)

	_, ok := c.Resolve(first)
	assert.False(t, ok, "resolving a superseded trial is rejected")

	m.Advance(3 * time.Second)
	assert.Zero(t, staleCalls)
	assert.Equal(t, 2, freshCalls)
	assert.Empty(t, stale, "stopped manual timers never dispatch")
}

type leakyTimer struct{ f func() }

func (l *leakyTimer) Stop() bool { return false }

// leakyLoop never cancels timers, like a wall-clock timer that already fired.
type leakyLoop struct {
	*Manual
	timers []*leakyTimer
}

func (l *leakyLoop) AfterFunc(d time.Duration, f func()) Timer {
	t := &leakyTimer{f: f}
	l.timers = append(l.timers, t)
	return t
}

func TestTrialClockTokenGuardsUncancelableTimers(t *testing.T) {
	loop := &leakyLoop{Manual: NewManual(epoch)}
	var stale []string
	c := NewTrialClock(loop, func(kind string, scheduled, current Token) {
		stale = append(stale, kind)
	})
	fired := 0
	c.StartTrial(time.Second, time.Second, func(Token) { fired++ }, func(Token) { fired++ })
	c.Invalidate()

	for _, tm := range loop.timers {
		tm.f()
	}
	assert.Zero(t, fired)
	assert.Equal(t, []string{KindDisplayEnd, KindResponseTimeout}, stale)
}

func TestEventLoopSerializesCallbacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewEventLoop(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	var counter int64
	var inFlight int32
	fired := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		loop.AfterFunc(time.Duration(i)*time.Millisecond, func() {
			if !atomic.CompareAndSwapInt32(&inFlight, 0, 1) {
				t.Error("callbacks overlapped")
			}
			counter++
			atomic.StoreInt32(&inFlight, 0)
			fired <- struct{}{}
		})
	}
	for i := 0; i < 10; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("timer %d did not fire", i)
		}
	}

	var applied bool
	loop.Go(func() func() {
		return func() { applied = true }
	})
	loop.Wait()
	var seen bool
	require.True(t, loop.Call(func() { seen = applied }))
	assert.True(t, seen)
	require.True(t, loop.Call(func() {}))
	assert.EqualValues(t, 10, counter)

	cancel()
	<-done
	assert.False(t, loop.Post(func() {}), "posting after shutdown is rejected")
}

func TestEventLoopStoppedTimerNeverRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewEventLoop(4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	ran := make(chan struct{}, 1)
	tm := loop.AfterFunc(50*time.Millisecond, func() { ran <- struct{}{} })
	require.True(t, tm.Stop())

	select {
	case <-ran:
		t.Fatal("stopped timer ran")
	case <-time.After(120 * time.Millisecond):
	}
	cancel()
	<-done
}
