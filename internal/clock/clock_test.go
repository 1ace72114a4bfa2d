package clock

import (
	"testing"
	"time"
)

func TestSystemClock_Now(t *testing.T) {
	c := System()
	before := time.Now()
	now := c.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestSystemClock_AfterFunc(t *testing.T) {
	c := System()
	fired := make(chan struct{})

	c.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSystemClock_Stop(t *testing.T) {
	c := System()
	timer := c.AfterFunc(time.Hour, func() {
		t.Error("stopped timer fired")
	})

	if !timer.Stop() {
		t.Error("Stop() = false for pending timer")
	}
}

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	f := NewFake()
	var fired []string

	f.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	f.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "b") })
	f.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })

	f.Advance(20 * time.Millisecond)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Errorf("fired = %v, want [a b]", fired)
	}
	if f.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.Pending())
	}
}

func TestFake_AdvanceMovesNow(t *testing.T) {
	f := NewFake()
	start := f.Now()

	f.Advance(5 * time.Second)

	if got := f.Now().Sub(start); got != 5*time.Second {
		t.Errorf("advanced by %v, want 5s", got)
	}
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	f := NewFake()
	start := f.Now()

	var seen time.Time
	f.AfterFunc(3*time.Second, func() { seen = f.Now() })

	f.Advance(10 * time.Second)

	if want := start.Add(3 * time.Second); !seen.Equal(want) {
		t.Errorf("callback saw now = %v, want %v", seen, want)
	}
	if want := start.Add(10 * time.Second); !f.Now().Equal(want) {
		t.Errorf("final now = %v, want %v", f.Now(), want)
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	f := NewFake()

	timer := f.AfterFunc(time.Second, func() {
		t.Error("stopped timer fired")
	})

	if !timer.Stop() {
		t.Error("Stop() = false for pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	f.Advance(2 * time.Second)
}

func TestFake_StopAfterFire(t *testing.T) {
	f := NewFake()

	var timer Timer
	timer = f.AfterFunc(time.Second, func() {})
	f.Advance(time.Second)

	if timer.Stop() {
		t.Error("Stop() = true for already-fired timer")
	}
}

func TestFake_RearmWithinCallback(t *testing.T) {
	f := NewFake()
	var count int

	var fn func()
	fn = func() {
		count++
		if count < 3 {
			f.AfterFunc(time.Second, fn)
		}
	}
	f.AfterFunc(time.Second, fn)

	f.Advance(3 * time.Second)

	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestFake_SameDeadlineFiresInArmOrder(t *testing.T) {
	f := NewFake()
	var fired []string

	f.AfterFunc(time.Second, func() { fired = append(fired, "first") })
	f.AfterFunc(time.Second, func() { fired = append(fired, "second") })

	f.Advance(time.Second)

	if len(fired) != 2 || fired[0] != "first" || fired[1] != "second" {
		t.Errorf("fired = %v, want [first second]", fired)
	}
}
