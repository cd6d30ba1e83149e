// Package auto generates notes and parameter changes without any session
// driving them.
//
// Schedulers are not safe for concurrent use. They expect the Clock to run
// every callback on the goroutine that calls their methods.
package auto

import "time"

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// Rand is the source of randomness for the schedulers. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// timer owns at most one pending callback. Arming cancels the previous one.
type timer struct {
	clock   Clock
	pending Timer
	gen     uint64
}

func (t *timer) arm(d time.Duration, f func()) {
	t.cancel()
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() {
		// The callback may already have been queued when the timer was
		// cancelled or re-armed.
		if gen != t.gen {
			return
		}
		t.pending = nil
		f()
	})
}

func (t *timer) cancel() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *timer) armed() bool {
	return t.pending != nil
}
