// Package eventbus is the typed multicast event stream (spec.md §6).
// Grounded on the teacher's rclone.MigrationJob.Subscribe/addOutput/
// closeSubscribers (per-subscriber buffered channel, non-blocking send,
// historical-replay-then-live), generalized from free-text log lines to
// the typed model.Event union and scoped per-Job instead of per-process.
package eventbus

import "sync"

const (
	historyLimit     = 1000
	replayLimit      = 100
	subscriberBuffer = 100
)

// Bus is a single Job's append-only event log plus its live subscribers.
// Multi-producer (any pipeline stage may Publish), fan-out to multiple
// subscribers; Publish never blocks on a slow subscriber.
type Bus struct {
	mu          sync.RWMutex
	history     []Event
	subscribers []chan Event
	closed      bool
}

// Event is the wire shape published on the bus — any value the
// producer passes through Publish. Callers typically pass
// model.Event or one of the typed lifecycle events from
// internal/orchestrator; the bus itself is payload-agnostic.
type Event = interface{}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Publish appends an event to history and fans it out to every live
// subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, e)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	subs := b.subscribers
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber: drop rather than block the producer.
		}
	}
}

// Subscribe returns a channel that replays up to the last replayLimit
// historical events, then receives every future Publish. A subscriber
// arriving after Close still gets the full replay (a late SSE client
// reconnecting to an already-finished Job must still see its history);
// the channel is simply closed right after, since there is no "future"
// left to deliver.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)

	start := 0
	if len(b.history) > replayLimit {
		start = len(b.history) - replayLimit
	}
	for _, e := range b.history[start:] {
		ch <- e
	}

	if b.closed {
		close(ch)
		return ch
	}

	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Close closes every subscriber channel; further Publish calls are
// no-ops. Called once the Job reaches a terminal state.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
