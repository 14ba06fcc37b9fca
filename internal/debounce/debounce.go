// Package debounce coalesces bursts of triggers into a single trailing call.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the coalescing window used when New is given a
// non-positive one.
const DefaultWindow = 50 * time.Millisecond

// Debouncer runs fn once, one window after the last of a burst of Trigger
// calls. fn always runs on the debouncer's own goroutine, so it never runs
// concurrently with itself. A trigger that arrives while fn is running
// schedules another trailing call.
type Debouncer struct {
	window time.Duration
	fn     func()

	trigger chan struct{}
	flush   chan chan struct{}
	stop    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
}

// New starts a debouncer for fn.
func New(window time.Duration, fn func()) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Debouncer{
		window:  window,
		fn:      fn,
		trigger: make(chan struct{}, 1),
		flush:   make(chan chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Window returns the coalescing window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Trigger schedules a call, pushing any pending one back by a full window.
// It never blocks. Triggers after Stop are ignored.
func (d *Debouncer) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	case <-d.done:
	default:
		// A trigger is already queued and will reset the timer when the
		// loop picks it up, which is no earlier than now.
	}
}

// Flush runs a pending call immediately and waits for it to finish. It is a
// no-op when nothing is pending.
func (d *Debouncer) Flush() {
	reply := make(chan struct{})
	select {
	case d.flush <- reply:
		<-reply
	case <-d.done:
	}
}

// Stop runs any pending call, then shuts the debouncer down. A burst that
// was triggered always results in one call, even when Stop cuts its window
// short. Stop is idempotent and waits for the loop to exit.
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Debouncer) loop() {
	defer close(d.done)

	timer := time.NewTimer(d.window)
	timer.Stop()
	pending := false

	fire := func() {
		timer.Stop()
		if pending {
			pending = false
			d.fn()
		}
	}

	for {
		select {
		case <-d.trigger:
			pending = true
			timer.Reset(d.window)

		case <-timer.C:
			fire()

		case reply := <-d.flush:
			// A trigger queued just before the flush belongs to this burst.
			select {
			case <-d.trigger:
				pending = true
			default:
			}
			fire()
			close(reply)

		case <-d.stop:
			select {
			case <-d.trigger:
				pending = true
			default:
			}
			fire()
			return
		}
	}
}
