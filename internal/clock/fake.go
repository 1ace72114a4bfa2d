package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for deterministic tests.
// Callbacks run inline on the goroutine calling Advance, ordered by
// deadline and then by arm order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers []*fakeTimer
}

// NewFake returns a Fake positioned at an arbitrary fixed instant.
func NewFake() *Fake {
	return &Fake{now: time.Unix(1000, 0)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run when the fake clock advances past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		clock:    f,
		id:       f.nextID,
		deadline: f.now.Add(d),
		fn:       fn,
	}
	f.nextID++
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, running every due callback in
// deadline order. Callbacks may arm new timers; a new timer due within
// the same advance also fires.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	if target.After(f.now) {
		f.now = target
	}
	f.mu.Unlock()
}

// Pending returns the number of armed timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// popDue removes and returns the earliest timer due at or before target,
// moving the clock to its deadline. It returns nil when nothing is due.
func (f *Fake) popDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].deadline.Equal(f.timers[j].deadline) {
			return f.timers[i].id < f.timers[j].id
		}
		return f.timers[i].deadline.Before(f.timers[j].deadline)
	})

	for i, t := range f.timers {
		if t.deadline.After(target) {
			break
		}
		f.timers = append(f.timers[:i], f.timers[i+1:]...)
		if t.deadline.After(f.now) {
			f.now = t.deadline
		}
		return t
	}
	return nil
}

func (f *Fake) remove(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, t := range f.timers {
		if t.id == id {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock    *Fake
	id       uint64
	deadline time.Time
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	return t.clock.remove(t.id)
}
