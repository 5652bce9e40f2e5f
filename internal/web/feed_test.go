package web

import (
	"sync"
	"testing"

	"geobridge/internal/fix"
)

func TestFixFeed_SubscriberReceivesPublishes(t *testing.T) {
	f := NewFixFeed()
	id, ch := f.Subscribe(2)
	defer f.Unsubscribe(id)

	f.Publish(fix.Fix{Seq: 1})
	f.Publish(fix.Fix{Seq: 2})

	if got := <-ch; got.Seq != 1 {
		t.Fatalf("seq=%d", got.Seq)
	}
	if got := <-ch; got.Seq != 2 {
		t.Fatalf("seq=%d", got.Seq)
	}
}

func TestFixFeed_NewSubscriberGetsLastSample(t *testing.T) {
	f := NewFixFeed()
	f.Publish(fix.Fix{Seq: 7})

	id, ch := f.Subscribe(1)
	defer f.Unsubscribe(id)
	if got := <-ch; got.Seq != 7 {
		t.Fatalf("seq=%d", got.Seq)
	}
}

func TestFixFeed_SlowSubscriberDropsSamples(t *testing.T) {
	f := NewFixFeed()
	id, ch := f.Subscribe(1)
	defer f.Unsubscribe(id)

	f.Publish(fix.Fix{Seq: 1})
	f.Publish(fix.Fix{Seq: 2})
	f.Publish(fix.Fix{Seq: 3})

	// Buffer of one: only the first sample made it, the rest were dropped
	// rather than blocking the publisher.
	if got := <-ch; got.Seq != 1 {
		t.Fatalf("seq=%d", got.Seq)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected sample seq=%d", got.Seq)
	default:
	}
}

func TestFixFeed_UnsubscribeClosesChannel(t *testing.T) {
	f := NewFixFeed()
	id, ch := f.Subscribe(1)
	f.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	f.Publish(fix.Fix{Seq: 1})
}

func TestFixFeed_PublishDuringSubscribeChurn(t *testing.T) {
	f := NewFixFeed()
	done := make(chan struct{})

	// Publishers racing listeners that connect and disconnect; a publish
	// must never hit a channel that Unsubscribe already closed.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					f.Publish(fix.Fix{Seq: 1})
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		id, ch := f.Subscribe(1)
		drained := make(chan struct{})
		go func() {
			for range ch {
			}
			close(drained)
		}()
		f.Unsubscribe(id)
		<-drained
	}

	close(done)
	wg.Wait()
}

func TestFixFeed_NilSafe(t *testing.T) {
	var f *FixFeed
	f.Publish(fix.Fix{})
	f.Unsubscribe(0)
	if id, ch := f.Subscribe(1); id != 0 || ch != nil {
		t.Fatalf("nil feed subscribe returned %d/%v", id, ch)
	}
}
