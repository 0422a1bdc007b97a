package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"experiment-test-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SnapshotStore loads and publishes config snapshot JSONB in Postgres.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) LoadSnapshot(ctx context.Context, version int) (domain.ConfigSnapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM config_snapshots WHERE version=$1`, version).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConfigSnapshot{}, fmt.Errorf("version %d: %w", version, domain.ErrSnapshotNotFound)
	}
	if err != nil {
		return domain.ConfigSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.ConfigSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.ConfigSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) LatestVersion(ctx context.Context) (int, error) {
	var version *int
	if err := s.pool.QueryRow(ctx, `SELECT max(version) FROM config_snapshots`).Scan(&version); err != nil {
		return 0, fmt.Errorf("latest snapshot version: %w", err)
	}
	if version == nil {
		return 0, domain.ErrSnapshotNotFound
	}
	return *version, nil
}

// Publish stores a validated snapshot. Published versions are immutable.
func (s *SnapshotStore) Publish(ctx context.Context, snap domain.ConfigSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO config_snapshots (version, data, published_at) VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (version) DO NOTHING`,
		snap.Version, string(data), snap.PublishedAt)
	if err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConfigurationError{Path: "version", Reason: fmt.Sprintf("version %d already published", snap.Version)}
	}
	return nil
}
