package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/infra/memory"
	pgstore "experiment-test-service/internal/infra/postgres"
	pgmigrations "experiment-test-service/internal/infra/postgres/migrations"
	infraredis "experiment-test-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type fixedRandom struct{}

func (fixedRandom) Float64() float64 { return 0.5 }

func (fixedRandom) Shuffle(int, func(i, j int)) {}

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	snapshots := pgstore.NewSnapshotStore(pool)
	if err := snapshots.Publish(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := snapshots.Publish(ctx, sampleSnapshot()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected republish to be rejected, got %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	repo := memory.NewSnapshotRepository(snapshots, 5*time.Minute)
	attempts := pgstore.NewAttemptStore(pool)
	keys := infraredis.NewAnswerKeyCache(redisClient, app.NewSnapshotAnswerKeys(repo), 5*time.Minute)
	bus := infraredis.NewEventBus(redisClient, 16, nil)
	results := app.NewResultsService(repo, keys, attempts, nil)
	newService := func() *app.AttemptService {
		return app.NewAttemptService(app.AttemptDeps{
			Snapshots: repo,
			Attempts:  attempts,
			Sessions:  infraredis.NewSessionStore(redisClient, 5*time.Minute),
			Publisher: bus,
			Results:   results,
			Random:    fixedRandom{},
		})
	}

	stream, cancel, err := bus.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	service := newService()
	view, err := service.Begin(ctx, "u1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := service.Begin(ctx, "u1"); !errors.Is(err, domain.ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}
	id := view.Attempt.ID
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	if _, err := service.EnterQuestion(ctx, id, "q1", t0); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := service.OptionEvent(ctx, id, "q1", "o2", domain.OptionSelect, t0.Add(time.Second)); err != nil {
		t.Fatalf("option: %v", err)
	}

	select {
	case ev := <-stream:
		if ev.AttemptID != id || ev.Seq != 1 {
			t.Fatalf("unexpected streamed event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event streamed")
	}

	// a second instance replays the log from Postgres
	other := newService()
	if _, err := other.ExitQuestion(ctx, id, "q1", t0.Add(2*time.Second)); err != nil {
		t.Fatalf("exit on other instance: %v", err)
	}
	out, err := other.Next(ctx, id, t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if out.Status != domain.AttemptCompleted {
		t.Fatalf("expected completion, got %s", out.Status)
	}

	res, err := other.Results(ctx, id)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if res.Summary.CorrectQuestions != 1 || res.Summary.TimeTakenMs != 2000 || res.Summary.Partial {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if !keysCached(ctx, redisClient) {
		t.Fatalf("expected answer key cached in redis")
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func keysCached(ctx context.Context, client *goredis.Client) bool {
	n, err := client.Exists(ctx, "config:1:answers").Result()
	return err == nil && n == 1
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "experiment", "POSTGRES_PASSWORD": "experimentpass", "POSTGRES_DB": "experimentdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://experiment:experimentpass@%s:%s/experimentdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func sampleSnapshot() domain.ConfigSnapshot {
	return domain.ConfigSnapshot{
		Version:     1,
		PublishedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Groups: []domain.Group{{
			ID: "g1", Label: "Group 1", Weight: 100,
			Protocol: domain.Protocol{
				ID: "p1",
				Phases: []domain.Phase{{ID: "ph1", Questions: []domain.Question{{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Order: 0, Text: "3"},
						{ID: "o2", Order: 1, Text: "4", Correct: true},
						{ID: "o3", Order: 2, Text: "5"},
					},
				}}}},
			},
		}},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
