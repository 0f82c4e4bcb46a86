package fleet

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(ProgressEvent{JobID: "job-1", Frame: 3, Total: 10, Status: "ok"})

	select {
	case payload := <-events:
		var ev ProgressEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Frame != 3 || ev.Status != "ok" {
			t.Fatalf("event = %+v, want frame 3 status ok", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestHubScopesEventsByJob(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("job-a")
	defer cancel()

	hub.Publish(ProgressEvent{JobID: "job-b", Status: "ok"})

	select {
	case <-events:
		t.Fatalf("received another job's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("job-1")
	cancel()

	hub.Publish(ProgressEvent{JobID: "job-1", Status: "ok"})

	select {
	case <-events:
		t.Fatalf("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("job-1")
	defer cancel()

	// Overflow the subscriber buffer without draining it.
	for i := 0; i < 100; i++ {
		hub.Publish(ProgressEvent{JobID: "job-1", Frame: i, Status: "ok"})
	}

	// The channel was closed on overflow; draining it must terminate.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("slow subscriber was not dropped")
		}
	}
}
