package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/assign"
	"experiment-test-service/internal/config"
	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/infra/memory"
	pgstore "experiment-test-service/internal/infra/postgres"
	infraredis "experiment-test-service/internal/infra/redis"
	"experiment-test-service/internal/infra/sqlite"
	"experiment-test-service/internal/snapshot"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
)

type snapshotLoader interface {
	memory.SnapshotLoader
	Publish(ctx context.Context, s domain.ConfigSnapshot) error
}

type eventBus interface {
	app.EventPublisher
	app.EventSubscriber
}

// deps holds the collaborators chosen by config: Postgres, then SQLite, then
// memory for attempts; Redis or memory for sessions, events and answer keys.
type deps struct {
	loader    snapshotLoader
	snapshots *memory.SnapshotRepository
	attempts  app.AttemptStore
	sessions  app.SessionRepository
	events    eventBus
	results   *app.ResultsService
	service   *app.AttemptService

	closers []io.Closer
	cleanup []func()
}

func (d *deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.cleanup = append(d.cleanup, pool.Close)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, redisClient)
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)
	snapshotTTL := config.TTLDuration(cfg.Snapshot.TTL, 10*time.Minute)

	if pool != nil {
		d.loader = pgstore.NewSnapshotStore(pool)
	} else {
		d.loader = memory.NewStaticSnapshotLoader()
	}
	if err := bootstrapSnapshot(ctx, d.loader, cfg.Snapshot.File, logger); err != nil {
		d.Close()
		return nil, err
	}
	d.snapshots = memory.NewSnapshotRepository(d.loader, snapshotTTL)

	switch {
	case pool != nil:
		d.attempts = pgstore.NewAttemptStore(pool)
	case cfg.SQLite.Path != "":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, store)
		d.attempts = store
	default:
		logger.Warn("no database configured; attempts are kept in memory only")
		d.attempts = memory.NewAttemptStore()
	}

	var keys app.AnswerKeySource = app.NewSnapshotAnswerKeys(d.snapshots)
	if redisClient != nil {
		keys = infraredis.NewAnswerKeyCache(redisClient, keys, redisTTL)
		d.sessions = infraredis.NewSessionStore(redisClient, redisTTL)
		d.events = infraredis.NewEventBus(redisClient, 64, logger)
	} else {
		d.sessions = memory.NewSessionStore()
		d.events = memory.NewBroadcaster(64)
	}

	d.results = app.NewResultsService(d.snapshots, keys, d.attempts, logger)
	d.service = app.NewAttemptService(app.AttemptDeps{
		Snapshots: d.snapshots,
		Attempts:  d.attempts,
		Sessions:  d.sessions,
		Publisher: d.events,
		Results:   d.results,
		Random:    assign.NewSeeded(cfg.Random.Seed),
		Logger:    logger,
	})
	return d, nil
}

// bootstrapSnapshot publishes the configured snapshot file when its version is
// not yet known to the loader. Published versions are never replaced.
func bootstrapSnapshot(ctx context.Context, loader snapshotLoader, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	snap, err := snapshot.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := loader.LoadSnapshot(ctx, snap.Version); err == nil {
		logger.Debug("snapshot already published", "version", snap.Version)
		return nil
	} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
		return err
	}
	if snap.PublishedAt.IsZero() {
		snap.PublishedAt = time.Now().UTC()
	}
	if err := loader.Publish(ctx, snap); err != nil {
		return err
	}
	logger.Info("snapshot published", "version", snap.Version, "file", path)
	return nil
}
