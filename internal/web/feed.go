package web

import (
	"sync"

	"geobridge/internal/fix"
)

// FixFeed fans published fixes out to any live listeners (the websocket
// endpoint). It keeps the most recent fix so a new subscriber gets an
// immediate sample.
type FixFeed struct {
	mu       sync.Mutex
	subs     map[int]chan fix.Fix
	nextID   int
	last     fix.Fix
	haveLast bool
}

func NewFixFeed() *FixFeed {
	return &FixFeed{subs: make(map[int]chan fix.Fix)}
}

func (f *FixFeed) Subscribe(buffer int) (int, <-chan fix.Fix) {
	if f == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan fix.Fix, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if f.haveLast {
		select {
		case ch <- f.last:
		default:
		}
	}
	f.mu.Unlock()
	return id, ch
}

func (f *FixFeed) Unsubscribe(id int) {
	if f == nil {
		return
	}
	f.mu.Lock()
	ch, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
		close(ch)
	}
	f.mu.Unlock()
}

// Publish never blocks: slow listeners drop samples. The sends happen
// under the lock so a concurrent Unsubscribe cannot close a channel
// mid-send.
func (f *FixFeed) Publish(fx fix.Fix) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.last = fx
	f.haveLast = true
	for _, ch := range f.subs {
		select {
		case ch <- fx:
		default:
		}
	}
	f.mu.Unlock()
}
