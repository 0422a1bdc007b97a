package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"experiment-test-service/internal/config"
	"experiment-test-service/internal/infra/memory"
)

const fixture = "../snapshot/testdata/snapshot.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", fixture)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.HasPrefix(out, "ok: version 2, 2 groups") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := run(t, "validate", "does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSimulateAssignIsSeeded(t *testing.T) {
	first, err := run(t, "simulate-assign", fixture, "-n", "2000", "--seed", "7")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := run(t, "simulate-assign", fixture, "-n", "2000", "--seed", "7")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if first != second {
		t.Fatalf("same seed produced different output:\n%s\n%s", first, second)
	}
	if !strings.Contains(first, "control") || !strings.Contains(first, "treatment") {
		t.Fatalf("expected both groups in output:\n%s", first)
	}
}

func TestBootstrapSnapshotPublishesOnce(t *testing.T) {
	ctx := context.Background()
	loader := memory.NewStaticSnapshotLoader()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := bootstrapSnapshot(ctx, loader, fixture, logger); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	snap, err := loader.LoadSnapshot(ctx, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.PublishedAt.IsZero() {
		t.Fatalf("expected publish time to be stamped")
	}
	// a second start finds the version and leaves it alone
	if err := bootstrapSnapshot(ctx, loader, fixture, logger); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var cfg config.Config
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("expected json output, got %s", buf.String())
	}
}
