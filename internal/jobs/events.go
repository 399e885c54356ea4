package jobs

import (
	"encoding/json"
	"sync"

	"audio-transcriber/internal/domain"
)

// EventType classifies messages delivered to job observers.
type EventType string

const (
	EventTypeProgress  EventType = "progress"
	EventTypeCompleted EventType = "completed"
	EventTypeError     EventType = "error"
)

// subscriberBuffer bounds the per-observer event queue. When an observer
// falls behind, the oldest queued event is dropped to make room.
const subscriberBuffer = 16

// Event is one observer-visible message for a job.
type Event struct {
	Type    EventType
	Stage   string
	Percent int
	Result  *domain.Result
	Message string
}

// terminal reports whether the event ends the stream for its job.
func (e Event) terminal() bool {
	return e.Type == EventTypeCompleted || e.Type == EventTypeError
}

// MarshalJSON emits the wire shape for each event kind:
//
//	{"type":"progress","stage":...,"percent":...}
//	{"type":"completed","result":{...}}
//	{"type":"error","message":...}
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTypeCompleted:
		return json.Marshal(struct {
			Type   EventType      `json:"type"`
			Result *domain.Result `json:"result"`
		}{e.Type, e.Result})
	case EventTypeError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Stage   string    `json:"stage"`
			Percent int       `json:"percent"`
		}{e.Type, e.Stage, e.Percent})
	}
}

// SnapshotEvent converts a job snapshot into the replay event a late
// subscriber receives before any live events.
func SnapshotEvent(job domain.Job) Event {
	switch {
	case job.Status == domain.JobStatusCompleted:
		return Event{Type: EventTypeCompleted, Result: job.Result}
	case job.Status == domain.JobStatusFailed:
		message := job.Error
		if message == "" {
			message = "unknown error"
		}
		return Event{Type: EventTypeError, Message: message}
	default:
		return Event{Type: EventTypeProgress, Stage: job.Stage, Percent: job.Progress}
	}
}

// Broadcaster is the per-job progress channel: any number of observers may
// subscribe to a job, each receives published events in order, and the
// stream closes after the terminal event.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	last   Event
	seen   bool
	closed bool
}

// Subscription is one observer's handle on a job's event stream.
type Subscription struct {
	topic *topic
	ch    chan Event
	once  sync.Once
	// done marks the channel as closed by either side; guarded by topic.mu.
	done bool
}

// Events returns the ordered event stream. The channel is closed after the
// terminal event or once the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the observer. It is idempotent and safe to call after the
// stream has already ended; other observers and the job are unaffected.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.topic.detach(s)
	})
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{topics: make(map[string]*topic)}
}

// Subscribe attaches an observer to a job's stream. The replay event is
// delivered first so a late subscriber immediately sees the current state;
// if a fresher event was already published it replaces the caller's replay.
// Subscribing after the terminal event yields only the terminal replay.
func (b *Broadcaster) Subscribe(jobID string, replay Event) *Subscription {
	t := b.topic(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription{topic: t, ch: make(chan Event, subscriberBuffer)}
	if t.seen {
		replay = t.last
	}
	sub.ch <- replay

	if t.closed || replay.terminal() {
		close(sub.ch)
		sub.done = true
		return sub
	}

	t.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every observer of the job, in order. A full
// observer buffer drops its oldest event; the terminal event is always
// enqueued and closes every stream. Publishing after close is a no-op.
func (b *Broadcaster) Publish(jobID string, event Event) {
	t := b.topic(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.last = event
	t.seen = true

	for sub := range t.subs {
		sub.send(event)
	}

	if event.terminal() {
		t.closed = true
		for sub := range t.subs {
			close(sub.ch)
			sub.done = true
		}
		t.subs = nil
	}
}

// Forget drops all broadcast state for a job. Used when the job itself is
// evicted from the store.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	t, ok := b.topics[jobID]
	delete(b.topics, jobID)
	b.mu.Unlock()

	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		close(sub.ch)
		sub.done = true
	}
	t.subs = nil
	t.closed = true
}

// topic returns the per-job state, creating it on first use.
func (b *Broadcaster) topic(jobID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[jobID] = t
	}
	return t
}

// send enqueues without blocking; when the buffer is full the oldest queued
// event is dropped first. Caller holds topic.mu, so sends never race with
// the close in Publish or detach.
func (s *Subscription) send(event Event) {
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// detach removes the subscription and ends its stream unless the publisher
// already closed it.
func (t *topic) detach(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.subs, sub)
	if !sub.done {
		close(sub.ch)
		sub.done = true
	}
}
