package clock

import (
	"sort"
	"time"
)

// Manual is a virtual-time Loop. Time only moves when Advance or Next is
// called, and every callback runs on the caller's goroutine. It is not safe
// for concurrent use.
type Manual struct {
	now     time.Time
	seq     uint64
	timers  []*manualTimer
	pending []func()
}

type manualTimer struct {
	when    time.Time
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a manual loop starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	return m.now
}

// AfterFunc schedules f at now+d. Negative durations fire at now.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{when: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Go runs work immediately and queues its completion until the next Flush,
// Advance or Next.
func (m *Manual) Go(work func() func()) {
	if apply := work(); apply != nil {
		m.pending = append(m.pending, apply)
	}
}

// Flush runs queued completions and every timer due at the current time.
func (m *Manual) Flush() {
	m.Advance(0)
}

// Advance moves virtual time forward by d, firing due timers in order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	m.runPending()
	for {
		t := m.nextDue(target, true)
		if t == nil {
			break
		}
		m.fire(t)
	}
	m.now = target
}

// Next advances to the earliest live timer and fires it. It reports false
// when nothing is scheduled.
func (m *Manual) Next() bool {
	m.runPending()
	t := m.nextDue(time.Time{}, false)
	if t == nil {
		return false
	}
	m.fire(t)
	return true
}

// Pending returns the number of live timers.
func (m *Manual) Pending() int {
	m.compact()
	return len(m.timers)
}

func (m *Manual) fire(t *manualTimer) {
	if t.when.After(m.now) {
		m.now = t.when
	}
	t.fired = true
	t.f()
	m.runPending()
}

// nextDue returns the earliest live timer, restricted to those due at or
// before limit when bounded.
func (m *Manual) nextDue(limit time.Time, bounded bool) *manualTimer {
	m.compact()
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	t := m.timers[0]
	if bounded && t.when.After(limit) {
		return nil
	}
	return t
}

func (m *Manual) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(m.timers); i++ {
		m.timers[i] = nil
	}
	m.timers = live
}

func (m *Manual) runPending() {
	for len(m.pending) > 0 {
		apply := m.pending[0]
		m.pending = m.pending[1:]
		apply()
	}
}
