package clock

import "time"

// Token identifies one trial. Every timer captures the token it was
// scheduled for and does nothing if a newer trial has started since.
type Token uint64

// Timer kinds reported to the stale hook.
const (
	KindDisplayEnd      = "display_end"
	KindResponseTimeout = "response_timeout"
	KindDeferred        = "deferred"
)

// StaleFunc observes a timer that fired for a superseded trial.
type StaleFunc func(kind string, scheduled, current Token)

// TrialClock schedules and cancels the timing windows of a trial. It must
// only be used from its Loop.
type TrialClock struct {
	loop    Loop
	onStale StaleFunc

	token     Token
	startedAt time.Time
	window    time.Duration
	display   Timer
	timeout   Timer
	deferred  []Timer
	displayed bool
}

// NewTrialClock returns a clock scheduling on loop. onStale may be nil.
func NewTrialClock(loop Loop, onStale StaleFunc) *TrialClock {
	return &TrialClock{loop: loop, onStale: onStale}
}

// Token returns the live trial token.
func (c *TrialClock) Token() Token {
	return c.token
}

// StartTrial cancels every timer of the previous trial and schedules the two
// windows of a new one: onDisplayEnd at duration and onTimeout at
// duration+interval.
func (c *TrialClock) StartTrial(duration, interval time.Duration, onDisplayEnd, onTimeout func(Token)) Token {
	c.Invalidate()
	tok := c.token
	c.startedAt = c.loop.Now()
	c.window = duration + interval
	c.displayed = false
	c.display = c.loop.AfterFunc(duration, func() {
		if !c.live(KindDisplayEnd, tok) {
			return
		}
		c.display = nil
		c.displayed = true
		onDisplayEnd(tok)
	})
	c.timeout = c.loop.AfterFunc(c.window, func() {
		if !c.live(KindResponseTimeout, tok) {
			return
		}
		c.timeout = nil
		onTimeout(tok)
	})
	return tok
}

// Resolve marks the live trial answered: the response timeout is canceled,
// the display timer keeps running, and the time left of the nominal
// duration+interval slot is returned.
func (c *TrialClock) Resolve(tok Token) (time.Duration, bool) {
	if tok != c.token {
		return 0, false
	}
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	remaining := c.window - c.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Elapsed returns the time since the live trial started.
func (c *TrialClock) Elapsed() time.Duration {
	if c.startedAt.IsZero() {
		return 0
	}
	return c.loop.Now().Sub(c.startedAt)
}

// StartedAt returns the start time of the live trial.
func (c *TrialClock) StartedAt() time.Time {
	return c.startedAt
}

// Displayed reports whether the live trial's display window has ended.
func (c *TrialClock) Displayed() bool {
	return c.displayed
}

// After runs f after d unless the trial token changes first.
func (c *TrialClock) After(d time.Duration, f func()) {
	tok := c.token
	c.deferred = append(c.deferred, c.loop.AfterFunc(d, func() {
		if !c.live(KindDeferred, tok) {
			return
		}
		f()
	}))
}

// Invalidate stops every pending timer and retires the live token, so any
// callback already on its way becomes a no-op.
func (c *TrialClock) Invalidate() {
	if c.display != nil {
		c.display.Stop()
		c.display = nil
	}
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	for _, t := range c.deferred {
		t.Stop()
	}
	c.deferred = nil
	c.token++
}

func (c *TrialClock) live(kind string, tok Token) bool {
	if tok == c.token {
		return true
	}
	if c.onStale != nil {
		c.onStale(kind, tok, c.token)
	}
	return false
}
