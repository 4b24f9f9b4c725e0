// Package countdown implements the station timer: a cancellable task that
// decrements a counter once per second and signals expiry once.
package countdown

import (
	"fmt"
	"sync"
	"time"
)

// Ticker is the subset of *time.Ticker the timer needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker returns a Ticker backed by time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Timer counts down whole seconds while active.
type Timer struct {
	mu        sync.Mutex
	remaining int
	active    bool
	gen       uint64 // incremented on every Start and Stop
	stop      chan struct{}

	newTicker func(time.Duration) Ticker
	onTick    func(remaining int)
	onExpire  func(run uint64)
}

// Option configures a Timer.
type Option func(*Timer)

// WithTicker replaces the ticker factory (used by tests).
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(t *Timer) { t.newTicker = f }
}

// OnTick registers a callback run after each decrement, outside the timer lock.
func OnTick(f func(remaining int)) Option {
	return func(t *Timer) { t.onTick = f }
}

// OnExpire registers a callback run once when the counter reaches zero,
// outside the timer lock. It receives the run returned by the Start that
// began the countdown.
func OnExpire(f func(run uint64)) Option {
	return func(t *Timer) { t.onExpire = f }
}

// New creates a stopped timer.
func New(opts ...Option) *Timer {
	t := &Timer{newTicker: NewTicker}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start resets the counter to seconds and begins ticking. A running
// countdown is cancelled first. It returns an identifier of this run, or 0
// when seconds is not positive and nothing was started.
func (t *Timer) Start(seconds int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.remaining = seconds
	if seconds <= 0 {
		t.remaining = 0
		return 0
	}
	t.active = true
	t.gen++
	t.stop = make(chan struct{})
	go t.run(t.gen, t.newTicker(time.Second), t.stop)
	return t.gen
}

// Stop deactivates the timer. No decrement happens after Stop returns.
// Stopping an inactive timer is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Remaining returns the seconds left.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Active reports whether the countdown is running.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Timer) cancelLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.active = false
	t.gen++
}

func (t *Timer) run(gen uint64, tk Ticker, stop <-chan struct{}) {
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C():
			if done := t.tick(gen); done {
				return
			}
		}
	}
}

// tick applies one decrement for the countdown identified by gen.
// It reports whether that countdown is over.
func (t *Timer) tick(gen uint64) bool {
	t.mu.Lock()
	if !t.active || t.gen != gen {
		t.mu.Unlock()
		return true
	}
	t.remaining--
	remaining := t.remaining
	expired := remaining <= 0
	if expired {
		t.remaining = 0
		t.active = false
		t.stop = nil
	}
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(remaining)
	}
	if expired && t.onExpire != nil {
		t.onExpire(gen)
	}
	return expired
}

// Format renders seconds as MM:SS.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
