package cli

import (
	"fmt"
	"os"

	"experiment-test-service/internal/config"
	"experiment-test-service/internal/export"
	"github.com/spf13/cobra"
)

// NewExportCmd writes the results archive of a config version to a file.
func NewExportCmd(configPath *string) *cobra.Command {
	var (
		format  string
		output  string
		version int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export per-user results as a gzip tar archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)
			d, err := buildDeps(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			file, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := d.results.Export(cmd.Context(), file, version, f); err != nil {
				_ = file.Close()
				_ = os.Remove(output)
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "per-user file format: csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "results.tar.gz", "archive path")
	cmd.Flags().IntVar(&version, "version", 0, "config version (0 means latest)")
	return cmd
}
