package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "captures", map[string]string{"slug": "acme"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].ID != "memory-2" {
		t.Fatalf("ids not recorded: %+v", msgs)
	}
	if got := pub.Topic("captures"); len(got) != 1 {
		t.Fatalf("expected one captures payload, got %v", got)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("topic not found")
	pub.FailWith(boom)
	if _, err := pub.Publish(context.Background(), "captures", nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	pub.FailWith(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pub.Publish(ctx, "captures", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel error, got %v", err)
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publishes must not be recorded")
	}
}
