// Package clock provides the single-threaded scheduling primitives the test
// engine runs on: a Loop that serializes timer callbacks and async
// completions, a manual virtual-time Loop for tests and simulation, and the
// Trial Clock that owns a trial's timing windows.
package clock

import "time"

// Timer is a cancelable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running if it has not been dispatched.
	// It reports whether the call stopped the timer.
	Stop() bool
}

// Loop runs callbacks one at a time on a single logical thread.
//
// Callbacks passed to AfterFunc and the completion returned by Go's work
// function are always invoked on the loop, never concurrently with each other.
type Loop interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	// Go runs work off the loop, then runs the callback it returns on the loop.
	Go(work func() func())
}
