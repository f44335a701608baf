package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("memory.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicRecordSaved, RecordSavedEvent{RecordID: "r1", Agent: "security", Category: "security", Embedded: true})

	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicRecordSaved {
			t.Fatalf("unexpected topic %q", ev.Topic)
		}
		payload, ok := ev.Payload.(RecordSavedEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.RecordID != "r1" {
			t.Fatalf("unexpected record id %q", payload.RecordID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	sub := b.Subscribe("agent.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicRouteDecided, RouteDecidedEvent{RunID: "run-1"})
	b.Publish(TopicAgentStarted, AgentEvent{RunID: "run-1", Agent: "security"})

	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicAgentStarted {
			t.Fatalf("expected agent.started, got %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected second event %q", ev.Topic)
	default:
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(TopicMemoryPushed, PushEvent{RunID: "run-1", Commit: "abc"})
	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicMemoryPushed {
			t.Fatalf("unexpected topic %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestSlowConsumerDoesNotBlock(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			b.Publish(TopicRecordSaved, RecordSavedEvent{RecordID: "r"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow consumer")
	}
}
