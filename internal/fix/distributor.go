package fix

import (
	"sync"
)

// DefaultHistory bounds the fix history kept for slow consumers that read
// a just-announced fix by handle shortly after the broadcast.
const DefaultHistory = 25

// Target is one delivery endpoint for published fixes. Implementations
// decide internally whether they are active; an inactive target receives
// nothing.
type Target interface {
	DeliverFix(handle string)
}

// TargetSource enumerates the current delivery targets.
type TargetSource interface {
	Targets() []Target
}

type DistributorConfig struct {
	// Capacity of the fix history; DefaultHistory when <= 0.
	Capacity int

	Targets TargetSource

	// Published is invoked for every fix after it is assigned a sequence
	// number and appended to history, before any target delivery. Used to
	// announce the fix outward (retained bus publish, live feeds).
	Published func(Fix)
}

// Distributor owns the bounded fix history and broadcasts new fixes to
// every active session in production order.
type Distributor struct {
	cfg DistributorConfig

	mu      sync.Mutex
	nextSeq uint64
	history []Fix
}

func NewDistributor(cfg DistributorConfig) *Distributor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultHistory
	}
	return &Distributor{cfg: cfg}
}

// Publish assigns the next sequence number, appends to history (evicting
// the oldest entry past capacity), announces the fix, and delivers its
// handle to every target. The lock is held across the whole operation so
// fixes reach targets strictly in publish order.
func (d *Distributor) Publish(f Fix) Fix {
	if d == nil {
		return f
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSeq++
	f.Seq = d.nextSeq

	d.history = append(d.history, f)
	if len(d.history) > d.cfg.Capacity {
		d.history = d.history[1:]
	}

	if d.cfg.Published != nil {
		d.cfg.Published(f)
	}

	if d.cfg.Targets != nil {
		handle := f.Handle()
		for _, t := range d.cfg.Targets.Targets() {
			t.DeliverFix(handle)
		}
	}
	return f
}

// Latest returns the most recently published fix, if any.
func (d *Distributor) Latest() (Fix, bool) {
	if d == nil {
		return Fix{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) == 0 {
		return Fix{}, false
	}
	return d.history[len(d.history)-1], true
}

// History returns a copy of the retained fixes, oldest first.
func (d *Distributor) History() []Fix {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Fix, len(d.history))
	copy(out, d.history)
	return out
}

// Lookup returns the retained fix for a handle, if still in history.
func (d *Distributor) Lookup(handle string) (Fix, bool) {
	if d == nil {
		return Fix{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].Handle() == handle {
			return d.history[i], true
		}
	}
	return Fix{}, false
}
