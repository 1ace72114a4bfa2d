// Package clock provides the time source and cancellable timer service
// used by the protocol state machines.
//
// Both the client and the server arm at most one timer per kind and always
// stop the previous handle before re-arming, so cancellation is an explicit
// Stop call on the handle rather than anything implicit. The Fake
// implementation drives callbacks deterministically for tests.
package clock

import "time"

// Timer is a handle to a pending one-shot callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from running. Stop is idempotent.
	Stop() bool
}

// Clock is a monotonic time source that can schedule cancellable
// delayed callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d and returns a handle to
	// cancel it.
	AfterFunc(d time.Duration, f func()) Timer
}

// System returns a Clock backed by the runtime clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool {
	return s.t.Stop()
}
