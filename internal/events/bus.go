package events

import "sync"

// Topic names one widget-level broadcast event. The vocabulary is fixed so
// host-page observers can subscribe without coupling to controller internals.
type Topic string

const (
	TopicListeningStart   Topic = "listening-start"
	TopicListeningStop    Topic = "listening-stop"
	TopicProcessingStart  Topic = "processing-start"
	TopicResponseStart    Topic = "response-start"
	TopicResponseComplete Topic = "response-complete"
	TopicError            Topic = "error"
	TopicAudioLevel       Topic = "audio-level"
	TopicReset            Topic = "reset"
)

// Event is one broadcast payload. Detail is topic-specific and optional.
type Event struct {
	Topic     Topic
	SessionID string
	Detail    any
}

// Bus is an in-process publish/subscribe channel with per-subscriber
// buffering. Slow subscribers drop events rather than block publishers;
// the bus sits on the session hot path and must never stall a transition.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	nextID int
	closed bool
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Subscribe registers a listener for the given topics; an empty topic list
// subscribes to everything. The returned cancel func is idempotent.
func (b *Bus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	var filter map[Topic]bool
	if len(topics) > 0 {
		filter = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{ch: ch, topics: filter}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every matching subscriber, dropping for any whose
// buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.topics != nil && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close tears down every subscription. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
