package redis

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// AnswerKeyCache caches answer keys in Redis (hash per config version) and falls
// back to a loader on cache miss.
// Entries are stored as: HSET config:{version}:answers {optionID} {questionID}|{phaseID}|{kind}|{correct}
type AnswerKeyCache struct {
	client *redis.Client
	loader app.AnswerKeySource
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewAnswerKeyCache(client *redis.Client, loader app.AnswerKeySource, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnswerKeyCache) AnswerKey(ctx context.Context, version int) (domain.AnswerKey, error) {
	key := c.answersKey(version)

	entries, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(entries) > 0 {
		if ak, ok := buildKeyFromCache(version, entries); ok {
			return ak, nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// another caller may have filled the hash meanwhile
		entries, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(entries) > 0 {
			if ak, ok := buildKeyFromCache(version, entries); ok {
				return ak, nil
			}
		}

		ak, err := c.loader.AnswerKey(ctx, version)
		if err != nil {
			return domain.AnswerKey{}, err
		}

		fields := make(map[string]interface{}, len(ak.Options))
		for optionID, o := range ak.Options {
			q := ak.Questions[o.QuestionID]
			fields[optionID] = encodeEntry(o, q)
		}
		if len(fields) > 0 {
			pipe := c.client.Pipeline()
			pipe.HSet(ctx, key, fields)
			if ttl := c.ttlWithJitter(); ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			// the cache is best effort; the loader result stands either way
			_, _ = pipe.Exec(ctx)
		}
		return ak, nil
	})
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return result.(domain.AnswerKey), nil
}

// Invalidate drops the cached key of one version.
func (c *AnswerKeyCache) Invalidate(ctx context.Context, version int) error {
	return c.client.Del(ctx, c.answersKey(version)).Err()
}

func (c *AnswerKeyCache) answersKey(version int) string {
	return "config:" + strconv.Itoa(version) + ":answers"
}

func encodeEntry(o domain.OptionKey, q domain.QuestionKey) string {
	return strings.Join([]string{o.QuestionID, q.PhaseID, string(q.Kind), strconv.FormatBool(o.Correct)}, "|")
}

// buildKeyFromCache rebuilds an answer key. A malformed entry counts as a miss.
func buildKeyFromCache(version int, entries map[string]string) (domain.AnswerKey, bool) {
	ak := domain.AnswerKey{
		Version:   version,
		Options:   make(map[string]domain.OptionKey, len(entries)),
		Questions: make(map[string]domain.QuestionKey),
	}
	for optionID, raw := range entries {
		parts := strings.Split(raw, "|")
		if len(parts) != 4 {
			return domain.AnswerKey{}, false
		}
		correct, err := strconv.ParseBool(parts[3])
		if err != nil {
			return domain.AnswerKey{}, false
		}
		questionID := parts[0]
		ak.Options[optionID] = domain.OptionKey{QuestionID: questionID, Correct: correct}

		q := ak.Questions[questionID]
		q.PhaseID = parts[1]
		q.Kind = domain.QuestionKind(parts[2])
		if correct {
			q.CorrectOptions = append(q.CorrectOptions, optionID)
		}
		ak.Questions[questionID] = q
	}
	for id, q := range ak.Questions {
		sort.Strings(q.CorrectOptions)
		ak.Questions[id] = q
	}
	return ak, true
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
