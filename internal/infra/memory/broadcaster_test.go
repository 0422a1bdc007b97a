package memory

import (
	"context"
	"testing"

	"experiment-test-service/internal/domain"
)

func TestBroadcasterFansOutPerVersion(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(4)

	v1, cancel1, _ := b.Subscribe(ctx, 1)
	defer cancel1()
	v2, cancel2, _ := b.Subscribe(ctx, 2)
	defer cancel2()

	_ = b.Publish(ctx, domain.SessionEvent{ConfigVersion: 1, Seq: 1})
	if ev := <-v1; ev.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", ev.Seq)
	}
	select {
	case ev := <-v2:
		t.Fatalf("version 2 subscriber got %+v", ev)
	default:
	}
}

func TestBroadcasterDropsOldestForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(2)
	ch, cancel, _ := b.Subscribe(ctx, 1)

	for seq := int64(1); seq <= 3; seq++ {
		_ = b.Publish(ctx, domain.SessionEvent{ConfigVersion: 1, Seq: seq})
	}
	if first := <-ch; first.Seq != 2 {
		t.Fatalf("expected oldest dropped, got seq %d", first.Seq)
	}
	cancel()
	cancel()
	if _, ok := <-ch; !ok {
		return
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
}
