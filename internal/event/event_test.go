package event

import (
	"sync"
	"testing"
	"time"

	"github.com/flemzord/baton/internal/run"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a, cancelA := h.Subscribe(4)
	defer cancelA()
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	h.Publish(Event{Type: TypeRunStarted, Job: "checkin", RunID: "r1"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case evt := <-ch:
			if evt.Type != TypeRunStarted || evt.Job != "checkin" {
				t.Errorf("%s got %+v", name, evt)
			}
			if evt.Time.IsZero() {
				t.Errorf("%s: zero Time should be stamped on publish", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s never received the event", name)
		}
	}
}

func TestHub_SlowSubscriberLosesOldest(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(2)
	defer cancel()

	h.Publish(Event{Type: TypeRunStarted, RunID: "r1"})
	h.Publish(Event{Type: TypeRunPhase, RunID: "r1", Phase: run.PhaseExecuting})
	h.Publish(Event{Type: TypeRunFinished, RunID: "r1", Outcome: run.OutcomeSucceeded})

	first := <-ch
	second := <-ch
	if first.Type != TypeRunPhase || second.Type != TypeRunFinished {
		t.Errorf("got %s then %s, want the newest two", first.Type, second.Type)
	}
	if h.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", h.Dropped())
	}
}

func TestHub_CancelStopsDeliveryAndClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(1)

	cancel()
	cancel() // safe to repeat

	h.Publish(Event{Type: TypeRunStarted})

	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
}

func TestHub_CloseEndsAllSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Close()
	h.Publish(Event{Type: TypeRunStarted})

	if _, open := <-ch; open {
		t.Error("channel should be closed after hub Close")
	}

	late, lateCancel := h.Subscribe(1)
	defer lateCancel()
	if _, open := <-late; open {
		t.Error("subscribing after Close should yield a closed channel")
	}
}

func TestHub_ConcurrentPublishAndCancel(t *testing.T) {
	t.Parallel()

	h := NewHub()
	var wg sync.WaitGroup

	for range 8 {
		ch, cancel := h.Subscribe(4)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}

	for range 100 {
		h.Publish(Event{Type: TypeRunPhase})
	}
	h.Close()
	wg.Wait()
}
