package events

import "testing"

func TestBusDeliversToMatchingSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(4, TopicListeningStart)
	defer cancel()

	b.Publish(Event{Topic: TopicListeningStart, SessionID: "s1"})
	b.Publish(Event{Topic: TopicAudioLevel, SessionID: "s1"})

	ev := <-ch
	if ev.Topic != TopicListeningStart {
		t.Fatalf("Topic = %q, want %q", ev.Topic, TopicListeningStart)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %q", extra.Topic)
	default:
	}
}

func TestBusEmptyFilterReceivesAll(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(Event{Topic: TopicProcessingStart})
	b.Publish(Event{Topic: TopicResponseComplete})

	first := <-ch
	second := <-ch
	if first.Topic != TopicProcessingStart || second.Topic != TopicResponseComplete {
		t.Fatalf("got %q then %q, want processing-start then response-complete", first.Topic, second.Topic)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(1, TopicAudioLevel)
	defer cancel()

	b.Publish(Event{Topic: TopicAudioLevel, Detail: 1})
	b.Publish(Event{Topic: TopicAudioLevel, Detail: 2})

	ev := <-ch
	if ev.Detail != 1 {
		t.Fatalf("Detail = %v, want 1 (second publish should drop)", ev.Detail)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected buffered event %v", ev.Detail)
	default:
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(4, TopicError)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	// Publish after cancel must not panic.
	b.Publish(Event{Topic: TopicError})
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(4)
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after bus close")
	}
	b.Publish(Event{Topic: TopicReset})
	b.Close()
}
