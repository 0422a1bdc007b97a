package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"experiment-test-service/internal/assign"
	"experiment-test-service/internal/config"
	pgstore "experiment-test-service/internal/infra/postgres"
	"experiment-test-service/internal/snapshot"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewValidateCmd checks a snapshot file without publishing it.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a config snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: version %d, %d groups, %d forms\n", snap.Version, len(snap.Groups), len(snap.Forms))
			return nil
		},
	}
}

// NewPublishCmd validates a snapshot file and stores it in Postgres.
func NewPublishCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>",
		Short: "Validate and publish a config snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			snap, err := snapshot.LoadFile(args[0])
			if err != nil {
				return err
			}
			if snap.PublishedAt.IsZero() {
				snap.PublishedAt = time.Now().UTC()
			}

			ctx := cmd.Context()
			if err := runMigrationsWithConfig(ctx, cfg, newLogger(cfg, os.Stderr)); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pgstore.NewSnapshotStore(pool).Publish(ctx, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published version %d\n", snap.Version)
			return nil
		},
	}
}

// NewSimulateAssignCmd draws n assignments from a snapshot and prints the observed proportions.
func NewSimulateAssignCmd() *cobra.Command {
	var (
		n    int
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "simulate-assign <file>",
		Short: "Simulate weighted group assignment for a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			snap, err := snapshot.LoadFile(args[0])
			if err != nil {
				return err
			}
			weights := assign.WeightsOf(snap)
			assigner := assign.NewAssigner(assign.NewSeeded(seed))
			counts := make(map[string]int, len(weights))
			for i := 0; i < n; i++ {
				group, err := assigner.Assign(weights)
				if err != nil {
					return err
				}
				counts[group]++
			}

			sort.SliceStable(weights, func(i, j int) bool { return weights[i].GroupID < weights[j].GroupID })
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-16s %8s %8s %8s\n", "group", "declared", "observed", "count")
			for _, w := range weights {
				observed := 100 * float64(counts[w.GroupID]) / float64(n)
				fmt.Fprintf(out, "%-16s %7d%% %7.2f%% %8d\n", w.GroupID, w.Weight, observed, counts[w.GroupID])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 1000, "number of simulated participants")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed (0 seeds from the clock)")
	return cmd
}
