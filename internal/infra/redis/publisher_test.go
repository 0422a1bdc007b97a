package redis

import (
	"context"
	"testing"
	"time"

	"experiment-test-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestEventBusDeliversPerVersion(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	bus := NewEventBus(newClient(mr), 8, nil)
	events, cancel, err := bus.Subscribe(ctx, 2)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := bus.Publish(ctx, domain.SessionEvent{AttemptID: "a", ConfigVersion: 1, Seq: 1, Type: domain.EventNext, Timestamp: ts}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.SessionEvent{AttemptID: "b", ConfigVersion: 2, Seq: 7, Type: domain.EventSkip, QuestionID: "q2", Timestamp: ts}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-events:
		if ev.AttemptID != "b" || ev.Seq != 7 || ev.QuestionID != "q2" || !ev.Timestamp.Equal(ts) {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected no further events")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}
