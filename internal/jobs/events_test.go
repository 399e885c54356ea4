package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"audio-transcriber/internal/domain"
)

// collect drains up to n events or fails after a timeout.
func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()

	var out []Event
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, event)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

// TestBroadcasterReplayThenLiveOrder verifies a subscriber first receives
// the replay snapshot and then every later event in publish order.
func TestBroadcasterReplayThenLiveOrder(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("job-1", Event{Type: EventTypeProgress, Stage: "pending", Percent: 0})
	defer sub.Close()

	b.Publish("job-1", Event{Type: EventTypeProgress, Stage: "processing", Percent: 10})
	b.Publish("job-1", Event{Type: EventTypeProgress, Stage: "transcribing", Percent: 30})
	b.Publish("job-1", Event{Type: EventTypeCompleted, Result: &domain.Result{Text: "hi"}})

	events := collect(t, sub, 4)
	wantStages := []string{"pending", "processing", "transcribing"}
	for i, stage := range wantStages {
		if events[i].Type != EventTypeProgress || events[i].Stage != stage {
			t.Fatalf("event %d = %+v, want progress %s", i, events[i], stage)
		}
	}
	if events[3].Type != EventTypeCompleted {
		t.Fatalf("final event = %+v, want completed", events[3])
	}

	if _, ok := <-sub.Events(); ok {
		t.Fatal("stream should be closed after terminal event")
	}
}

// TestBroadcasterFreshEventReplacesStaleReplay verifies the latest
// published event wins over the caller-supplied snapshot.
func TestBroadcasterFreshEventReplacesStaleReplay(t *testing.T) {
	b := NewBroadcaster()
	b.Publish("job-1", Event{Type: EventTypeProgress, Stage: "transcribing", Percent: 30})

	sub := b.Subscribe("job-1", Event{Type: EventTypeProgress, Stage: "processing", Percent: 10})
	defer sub.Close()

	events := collect(t, sub, 1)
	if events[0].Stage != "transcribing" || events[0].Percent != 30 {
		t.Fatalf("replay = %+v, want latest published state", events[0])
	}
}

// TestBroadcasterLateSubscriberGetsTerminalOnly verifies subscribing after
// the job finished yields one terminal replay and a closed stream.
func TestBroadcasterLateSubscriberGetsTerminalOnly(t *testing.T) {
	b := NewBroadcaster()
	b.Publish("job-1", Event{Type: EventTypeProgress, Stage: "processing", Percent: 10})
	b.Publish("job-1", Event{Type: EventTypeError, Message: "boom"})

	sub := b.Subscribe("job-1", Event{Type: EventTypeProgress, Stage: "pending", Percent: 0})
	events := collect(t, sub, 2)
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	if events[0].Type != EventTypeError || events[0].Message != "boom" {
		t.Fatalf("replay = %+v, want terminal error", events[0])
	}
}

// TestBroadcasterMultipleObserversSameOrder verifies every observer sees
// the identical sequence.
func TestBroadcasterMultipleObserversSameOrder(t *testing.T) {
	b := NewBroadcaster()
	replay := Event{Type: EventTypeProgress, Stage: "pending", Percent: 0}
	first := b.Subscribe("job-1", replay)
	second := b.Subscribe("job-1", replay)
	defer first.Close()
	defer second.Close()

	b.Publish("job-1", Event{Type: EventTypeProgress, Stage: "processing", Percent: 10})
	b.Publish("job-1", Event{Type: EventTypeCompleted, Result: &domain.Result{Text: "done"}})

	got1 := collect(t, first, 3)
	got2 := collect(t, second, 3)
	for i := range got1 {
		if got1[i].Type != got2[i].Type || got1[i].Stage != got2[i].Stage {
			t.Fatalf("observer divergence at %d: %+v vs %+v", i, got1[i], got2[i])
		}
	}
}

// TestBroadcasterSlowObserverDropsOldestKeepsTerminal verifies an unread
// buffer sheds the oldest progress events but still delivers the terminal
// event, without blocking the publisher.
func TestBroadcasterSlowObserverDropsOldestKeepsTerminal(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("job-1", Event{Type: EventTypeProgress, Stage: "pending", Percent: 0})
	defer sub.Close()

	for i := 1; i <= subscriberBuffer*3; i++ {
		b.Publish("job-1", Event{Type: EventTypeProgress, Stage: "transcribing", Percent: 30})
	}
	b.Publish("job-1", Event{Type: EventTypeCompleted, Result: &domain.Result{Text: "done"}})

	events := collect(t, sub, subscriberBuffer+1)
	if len(events) > subscriberBuffer {
		t.Fatalf("event count = %d, want at most %d", len(events), subscriberBuffer)
	}
	last := events[len(events)-1]
	if last.Type != EventTypeCompleted {
		t.Fatalf("last event = %+v, want completed", last)
	}
}

// TestSubscriptionCloseIsIdempotent verifies repeated and post-terminal
// closes are safe and other observers keep receiving.
func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	replay := Event{Type: EventTypeProgress, Stage: "pending", Percent: 0}
	leaver := b.Subscribe("job-1", replay)
	stayer := b.Subscribe("job-1", replay)
	defer stayer.Close()

	leaver.Close()
	leaver.Close()

	b.Publish("job-1", Event{Type: EventTypeError, Message: "boom"})
	leaver.Close()

	events := collect(t, stayer, 2)
	if events[1].Type != EventTypeError {
		t.Fatalf("stayer missed terminal event: %+v", events)
	}
}

// TestEventMarshalJSONWireShapes verifies the three observer wire formats.
func TestEventMarshalJSONWireShapes(t *testing.T) {
	progress, err := json.Marshal(Event{Type: EventTypeProgress, Stage: "transcribing", Percent: 30})
	if err != nil {
		t.Fatalf("marshal progress: %v", err)
	}
	if string(progress) != `{"type":"progress","stage":"transcribing","percent":30}` {
		t.Fatalf("progress json = %s", progress)
	}

	completed, err := json.Marshal(Event{Type: EventTypeCompleted, Result: &domain.Result{
		Text: "hello", InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
	}})
	if err != nil {
		t.Fatalf("marshal completed: %v", err)
	}
	want := `{"type":"completed","result":{"text":"hello","input_tokens":10,"output_tokens":5,` +
		`"total_tokens":15,"input_cost":0,"output_cost":0,"total_cost":0}}`
	if string(completed) != want {
		t.Fatalf("completed json = %s", completed)
	}

	failure, err := json.Marshal(Event{Type: EventTypeError, Message: "boom"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(failure) != `{"type":"error","message":"boom"}` {
		t.Fatalf("error json = %s", failure)
	}
}

// TestSnapshotEventByStatus verifies replay synthesis for each job phase.
func TestSnapshotEventByStatus(t *testing.T) {
	running := SnapshotEvent(domain.Job{Status: domain.JobStatusTranscribing, Stage: "transcribing", Progress: 30})
	if running.Type != EventTypeProgress || running.Percent != 30 {
		t.Fatalf("running replay = %+v", running)
	}

	done := SnapshotEvent(domain.Job{Status: domain.JobStatusCompleted, Result: &domain.Result{Text: "hi"}})
	if done.Type != EventTypeCompleted || done.Result.Text != "hi" {
		t.Fatalf("completed replay = %+v", done)
	}

	failed := SnapshotEvent(domain.Job{Status: domain.JobStatusFailed})
	if failed.Type != EventTypeError || failed.Message != "unknown error" {
		t.Fatalf("failed replay = %+v", failed)
	}
}
