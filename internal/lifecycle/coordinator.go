// Package lifecycle counts active sessions and drives the legacy tracking
// client accordingly, with a grace delay before powering hardware down so
// rapid stop/start churn does not power-cycle the receiver.
package lifecycle

import (
	"log"
	"sync"
	"time"
)

// DefaultGraceTimeout is the delay between the last session deactivation
// and the actual tracking stop.
const DefaultGraceTimeout = 15 * time.Second

// Tracker starts and stops the legacy provider client. Both calls are
// idempotent on the tracker side.
type Tracker interface {
	StartTracking()
	StopTracking()
}

type Config struct {
	// GraceTimeout defaults to DefaultGraceTimeout when <= 0.
	GraceTimeout time.Duration

	// InUse publishes the "any session active" indicator. Invoked on every
	// counter transition. May be nil.
	InUse func(bool)
}

// Coordinator holds the active-session counter and the single pending
// grace timer. Tracker calls are applied by a dedicated goroutine: the
// tracker performs bounded request/reply exchanges on the legacy bus, and
// those must never stall the caller (a bus dispatcher or timer callback).
type Coordinator struct {
	cfg Config

	mu         sync.Mutex
	tracker    Tracker
	active     int
	timer      *time.Timer
	generation uint64
	desired    bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Coordinator {
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = DefaultGraceTimeout
	}
	c := &Coordinator{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

// SetTracker injects the legacy client. Must be called before the first
// session activation.
func (c *Coordinator) SetTracker(t Tracker) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tracker = t
	c.mu.Unlock()
	c.signal()
}

// SessionActivated cancels any pending grace timer and increments the
// counter; the 0->1 transition requests a tracking start.
func (c *Coordinator) SessionActivated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cancelGraceLocked()
	c.active++
	count := c.active
	if count == 1 {
		c.desired = true
	}
	c.mu.Unlock()

	log.Printf("lifecycle session active count=%d", count)
	c.publishInUse(count > 0)
	if count == 1 {
		c.signal()
	}
}

// SessionDeactivated decrements the counter; when it reaches zero a grace
// timer is armed, and tracking stops only if the counter is still zero
// when it fires. A decrement below zero is a consistency fault: reported,
// not escalated.
func (c *Coordinator) SessionDeactivated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.active == 0 {
		c.mu.Unlock()
		log.Printf("lifecycle warning: session deactivated with count=0")
		return
	}
	c.active--
	count := c.active
	if count == 0 {
		c.armGraceLocked()
	}
	c.mu.Unlock()

	log.Printf("lifecycle session inactive count=%d", count)
	c.publishInUse(count > 0)
}

// ActiveCount returns the current active-session count.
func (c *Coordinator) ActiveCount() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close cancels any pending grace timer and stops the apply goroutine.
func (c *Coordinator) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cancelGraceLocked()
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) armGraceLocked() {
	c.cancelGraceLocked()
	gen := c.generation
	c.timer = time.AfterFunc(c.cfg.GraceTimeout, func() {
		c.onGraceExpired(gen)
	})
	log.Printf("lifecycle tracking stop scheduled in %s", c.cfg.GraceTimeout)
}

// cancelGraceLocked is unconditional and idempotent: cancelling an
// already-fired or never-armed timer is a no-op. Bumping the generation
// guarantees that a cancellation decided before the fire callback runs
// always wins, even if the timer goroutine has already been scheduled.
func (c *Coordinator) cancelGraceLocked() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) onGraceExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.active != 0 {
		count := c.active
		c.mu.Unlock()
		log.Printf("lifecycle grace timer expired but count=%d, skipping stop", count)
		return
	}
	c.timer = nil
	c.desired = false
	c.mu.Unlock()

	log.Printf("lifecycle grace timer expired, stopping tracking")
	c.signal()
}

// signal nudges the apply goroutine; a pending nudge is enough.
func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run applies the desired tracking state. Re-reading the desired state
// after every tracker call means the latest decision always wins: an
// activation landing while a stale stop is in flight is applied right
// after it, never lost.
func (c *Coordinator) run() {
	applied := false
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			want := c.desired
			tracker := c.tracker
			c.mu.Unlock()
			if want == applied || tracker == nil {
				break
			}
			if want {
				tracker.StartTracking()
			} else {
				tracker.StopTracking()
			}
			applied = want
		}
	}
}

func (c *Coordinator) publishInUse(inUse bool) {
	if c.cfg.InUse != nil {
		c.cfg.InUse(inUse)
	}
}
