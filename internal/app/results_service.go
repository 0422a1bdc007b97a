package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/export"
	"experiment-test-service/internal/metrics"
	"experiment-test-service/internal/results"
)

// AttemptResults is the aggregated view of one attempt. Issue is set when the
// result is partial because of unknown ids.
type AttemptResults struct {
	Summary   domain.UserSummary      `json:"summary"`
	Questions []domain.QuestionResult `json:"questions"`
	Events    []domain.QuestionEvent  `json:"-"`
	Issue     string                  `json:"issue,omitempty"`
}

// ConfigSummary rolls up one config version overall and per group.
type ConfigSummary struct {
	ConfigVersion int                   `json:"configVersion"`
	Overall       domain.GroupSummary   `json:"overall"`
	Groups        []domain.GroupSummary `json:"groups"`
}

// SnapshotAnswerKeys derives answer keys straight from snapshots.
type SnapshotAnswerKeys struct {
	snapshots SnapshotRepository
}

func NewSnapshotAnswerKeys(snapshots SnapshotRepository) *SnapshotAnswerKeys {
	return &SnapshotAnswerKeys{snapshots: snapshots}
}

func (k *SnapshotAnswerKeys) AnswerKey(ctx context.Context, version int) (domain.AnswerKey, error) {
	snap, err := k.snapshots.Get(ctx, version)
	if err != nil {
		return domain.AnswerKey{}, err
	}
	return domain.NewAnswerKey(snap), nil
}

// ResultsService aggregates recorded attempts on demand.
type ResultsService struct {
	snapshots SnapshotRepository
	keys      AnswerKeySource
	attempts  AttemptStore
	logger    *slog.Logger
}

func NewResultsService(snapshots SnapshotRepository, keys AnswerKeySource, attempts AttemptStore, logger *slog.Logger) *ResultsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultsService{snapshots: snapshots, keys: keys, attempts: attempts, logger: logger}
}

// Attempt rebuilds the question events of an attempt from its log and aggregates them.
func (r *ResultsService) Attempt(ctx context.Context, a domain.Attempt) (AttemptResults, error) {
	key, err := r.keys.AnswerKey(ctx, a.ConfigVersion)
	if err != nil {
		return AttemptResults{}, err
	}
	return r.aggregate(ctx, a, key)
}

func (r *ResultsService) aggregate(ctx context.Context, a domain.Attempt, key domain.AnswerKey) (AttemptResults, error) {
	evs, err := r.attempts.Events(ctx, a.ID)
	if err != nil {
		return AttemptResults{}, err
	}
	rec, err := replayRecorder(evs)
	if err != nil {
		return AttemptResults{}, fmt.Errorf("attempt %s: %w", a.ID, err)
	}

	recorded := rec.Snapshot()
	summary, questions, err := results.ForAttempt(a, recorded, key)
	out := AttemptResults{Summary: summary, Questions: questions, Events: recorded}
	var aggErr *domain.AggregationError
	switch {
	case err == nil:
	case errors.As(err, &aggErr):
		metrics.PartialAggregations.Inc()
		r.logger.Warn("partial aggregation", "attempt", a.ID, "version", a.ConfigVersion, "err", err)
		out.Issue = err.Error()
	default:
		return AttemptResults{}, err
	}
	return out, nil
}

// User aggregates every attempt of a user for a config version (0 means latest).
func (r *ResultsService) User(ctx context.Context, userID string, version int) ([]AttemptResults, error) {
	version, err := r.version(ctx, version)
	if err != nil {
		return nil, err
	}
	attempts, err := r.attempts.ListAttempts(ctx, domain.AttemptFilter{ConfigVersion: version, UserID: userID})
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("user %s version %d: %w", userID, version, domain.ErrAttemptNotFound)
	}
	key, err := r.keys.AnswerKey(ctx, version)
	if err != nil {
		return nil, err
	}

	out := make([]AttemptResults, 0, len(attempts))
	for _, a := range attempts {
		res, err := r.aggregate(ctx, a, key)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Group rolls up the latest attempt of every user assigned to groupID.
func (r *ResultsService) Group(ctx context.Context, version int, groupID string) (domain.GroupSummary, error) {
	defer metrics.ObserveAggregation("group", time.Now())
	version, err := r.version(ctx, version)
	if err != nil {
		return domain.GroupSummary{}, err
	}
	snap, err := r.snapshots.Get(ctx, version)
	if err != nil {
		return domain.GroupSummary{}, err
	}
	if _, ok := snap.Group(groupID); !ok {
		return domain.GroupSummary{}, fmt.Errorf("group %s: %w", groupID, domain.ErrGroupNotFound)
	}

	users, err := r.summaries(ctx, version, domain.AttemptFilter{ConfigVersion: version, GroupID: groupID})
	if err != nil {
		return domain.GroupSummary{}, err
	}
	g := results.RollUp(users)
	g.GroupID = groupID
	return g, nil
}

// Config rolls up the latest attempt of every user, overall and per group.
func (r *ResultsService) Config(ctx context.Context, version int) (ConfigSummary, error) {
	defer metrics.ObserveAggregation("config", time.Now())
	version, err := r.version(ctx, version)
	if err != nil {
		return ConfigSummary{}, err
	}
	users, err := r.summaries(ctx, version, domain.AttemptFilter{ConfigVersion: version})
	if err != nil {
		return ConfigSummary{}, err
	}
	return ConfigSummary{
		ConfigVersion: version,
		Overall:       results.RollUp(users),
		Groups:        results.RollUpByGroup(users),
	}, nil
}

func (r *ResultsService) summaries(ctx context.Context, version int, filter domain.AttemptFilter) ([]domain.UserSummary, error) {
	attempts, err := r.attempts.ListAttempts(ctx, filter)
	if err != nil {
		return nil, err
	}
	key, err := r.keys.AnswerKey(ctx, version)
	if err != nil {
		return nil, err
	}

	var users []domain.UserSummary
	for _, a := range latestPerUser(attempts) {
		res, err := r.aggregate(ctx, a, key)
		if err != nil {
			return nil, err
		}
		users = append(users, res.Summary)
	}
	return users, nil
}

// latestPerUser keeps the most recently started attempt of each user, ordered by user id.
func latestPerUser(attempts []domain.Attempt) []domain.Attempt {
	latest := make(map[string]domain.Attempt)
	for _, a := range attempts {
		if cur, ok := latest[a.UserID]; !ok || a.StartedAt.After(cur.StartedAt) {
			latest[a.UserID] = a
		}
	}
	out := make([]domain.Attempt, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ExportUsers collects the per-user export records of a config version.
func (r *ResultsService) ExportUsers(ctx context.Context, version int) ([]export.User, error) {
	version, err := r.version(ctx, version)
	if err != nil {
		return nil, err
	}
	attempts, err := r.attempts.ListAttempts(ctx, domain.AttemptFilter{ConfigVersion: version})
	if err != nil {
		return nil, err
	}
	key, err := r.keys.AnswerKey(ctx, version)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*export.User)
	var order []string
	for _, a := range attempts {
		u, ok := byUser[a.UserID]
		if !ok {
			u = &export.User{UserID: a.UserID}
			byUser[a.UserID] = u
			order = append(order, a.UserID)
		}
		res, err := r.aggregate(ctx, a, key)
		if err != nil {
			return nil, err
		}
		forms, err := r.attempts.Forms(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		u.Attempts = append(u.Attempts, export.Attempt{Attempt: a, Summary: res.Summary, Results: res.Questions, Events: res.Events})
		u.Forms = append(u.Forms, forms...)
	}

	sort.Strings(order)
	out := make([]export.User, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	return out, nil
}

// Export writes the gzip tar archive of a config version.
func (r *ResultsService) Export(ctx context.Context, w io.Writer, version int, format export.Format) error {
	defer metrics.ObserveAggregation("export", time.Now())
	users, err := r.ExportUsers(ctx, version)
	if err != nil {
		return err
	}
	return export.WriteArchive(w, format, users)
}

func (r *ResultsService) version(ctx context.Context, version int) (int, error) {
	if version > 0 {
		return version, nil
	}
	snap, err := r.snapshots.Latest(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Version, nil
}
