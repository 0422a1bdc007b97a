package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"experiment-test-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SnapshotLoader fetches published snapshots from a backing store (e.g., Postgres).
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, version int) (domain.ConfigSnapshot, error)
	LatestVersion(ctx context.Context) (int, error)
}

// SnapshotRepository caches snapshots with TTL to avoid repeated store hits.
// Snapshots are immutable, so only the latest-version pointer can go stale.
type SnapshotRepository struct {
	loader SnapshotLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu     sync.RWMutex
	cache  map[int]cachedSnapshot
	latest cachedVersion
}

type cachedSnapshot struct {
	snapshot  domain.ConfigSnapshot
	expiresAt time.Time
}

type cachedVersion struct {
	version   int
	expiresAt time.Time
}

func NewSnapshotRepository(loader SnapshotLoader, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int]cachedSnapshot),
	}
}

// Latest returns the snapshot with the highest published version.
func (r *SnapshotRepository) Latest(ctx context.Context) (domain.ConfigSnapshot, error) {
	now := r.clock()

	r.mu.RLock()
	latest := r.latest
	r.mu.RUnlock()
	if latest.version > 0 && latest.expiresAt.After(now) {
		return r.Get(ctx, latest.version)
	}

	result, err, _ := r.sf.Do("latest", func() (interface{}, error) {
		version, err := r.loader.LatestVersion(ctx)
		if err != nil {
			return 0, err
		}
		r.mu.Lock()
		r.latest = cachedVersion{version: version, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return version, nil
	})
	if err != nil {
		return domain.ConfigSnapshot{}, err
	}
	return r.Get(ctx, result.(int))
}

// Get returns one snapshot version.
func (r *SnapshotRepository) Get(ctx context.Context, version int) (domain.ConfigSnapshot, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[version]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.snapshot, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(strconv.Itoa(version), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[version]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.snapshot, nil
		}
		r.mu.RUnlock()

		snap, err := r.loader.LoadSnapshot(ctx, version)
		if err != nil {
			return domain.ConfigSnapshot{}, err
		}

		r.mu.Lock()
		r.cache[version] = cachedSnapshot{
			snapshot:  snap,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return domain.ConfigSnapshot{}, err
	}
	return result.(domain.ConfigSnapshot), nil
}

// Invalidate forgets the latest-version pointer, e.g. after a publish.
func (r *SnapshotRepository) Invalidate() {
	r.mu.Lock()
	r.latest = cachedVersion{}
	r.mu.Unlock()
}

func (r *SnapshotRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticSnapshotLoader is a simple loader backed by an in-memory map (useful for tests/demos
// and single-file deployments).
type StaticSnapshotLoader struct {
	mu        sync.RWMutex
	snapshots map[int]domain.ConfigSnapshot
}

func NewStaticSnapshotLoader(snapshots ...domain.ConfigSnapshot) *StaticSnapshotLoader {
	l := &StaticSnapshotLoader{snapshots: make(map[int]domain.ConfigSnapshot)}
	for _, s := range snapshots {
		l.snapshots[s.Version] = s
	}
	return l
}

// Publish adds a snapshot; an already published version is never replaced.
func (l *StaticSnapshotLoader) Publish(_ context.Context, s domain.ConfigSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.snapshots[s.Version]; ok {
		return &domain.ConfigurationError{Path: "version", Reason: "version " + strconv.Itoa(s.Version) + " already published"}
	}
	l.snapshots[s.Version] = s
	return nil
}

func (l *StaticSnapshotLoader) LoadSnapshot(_ context.Context, version int) (domain.ConfigSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.snapshots[version]; ok {
		return s, nil
	}
	return domain.ConfigSnapshot{}, domain.ErrSnapshotNotFound
}

func (l *StaticSnapshotLoader) LatestVersion(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	latest := 0
	for v := range l.snapshots {
		if v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, domain.ErrSnapshotNotFound
	}
	return latest, nil
}
