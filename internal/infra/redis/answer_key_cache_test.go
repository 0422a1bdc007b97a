package redis

import (
	"context"
	"reflect"
	"testing"
	"time"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAnswerKeyCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	snap := domain.ConfigSnapshot{Version: 3, Groups: []domain.Group{sampleGroup()}}
	loader := &countingLoader{key: domain.NewAnswerKey(snap)}
	cache := NewAnswerKeyCache(newClient(mr), loader, time.Minute)

	first, err := cache.AnswerKey(context.Background(), 3)
	if err != nil {
		t.Fatalf("answer key: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if got := mr.HGet("config:3:answers", "o2"); got != "q1|ph1|select-one|true" {
		t.Fatalf("unexpected cached entry %q", got)
	}

	// Second call should hit cache, loader not incremented.
	second, err := cache.AnswerKey(context.Background(), 3)
	if err != nil {
		t.Fatalf("answer key: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached key differs:\n%+v\n%+v", first, second)
	}

	if err := cache.Invalidate(context.Background(), 3); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = cache.AnswerKey(context.Background(), 3)
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestAnswerKeyCacheIgnoresMalformedEntries(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	mr.HSet("config:1:answers", "o1", "garbage")
	snap := domain.ConfigSnapshot{Version: 1, Groups: []domain.Group{sampleGroup()}}
	loader := &countingLoader{key: domain.NewAnswerKey(snap)}
	cache := NewAnswerKeyCache(newClient(mr), loader, 0)

	ak, err := cache.AnswerKey(context.Background(), 1)
	if err != nil {
		t.Fatalf("answer key: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected fallback to loader, calls=%d", loader.calls)
	}
	if q := ak.Questions["q1"]; !reflect.DeepEqual(q.CorrectOptions, []string{"o2"}) {
		t.Fatalf("unexpected correct options %v", q.CorrectOptions)
	}
}

var _ app.AnswerKeySource = (*countingLoader)(nil)

type countingLoader struct {
	key   domain.AnswerKey
	calls int
}

func (l *countingLoader) AnswerKey(_ context.Context, version int) (domain.AnswerKey, error) {
	l.calls++
	if version != l.key.Version {
		return domain.AnswerKey{}, domain.ErrSnapshotNotFound
	}
	return l.key, nil
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
