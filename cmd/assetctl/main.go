package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := NewRootCommand(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the assetctl command tree writing to out
func NewRootCommand(out io.Writer) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "assetctl",
		Short: "Simple Asset admin CLI",
		Long: `Simple Asset admin CLI

Inspects and repairs the asset library directly against its catalog and
blob store. Configuration is read from the environment (and a .env file):

  DATABASE_URL   memory (default) or postgres://...
  STORAGE_URL    memory:// (default), file:///path, or s3://bucket`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewStatsCommand())
	rootCmd.AddCommand(NewOrphansCommand())
	rootCmd.AddCommand(NewDeleteCommand())
	rootCmd.AddCommand(NewPurgeCommand())
	rootCmd.AddCommand(NewReconcileCommand())
	rootCmd.AddCommand(NewMigrateCommand())

	return rootCmd
}

// runtimeLoader builds the service for a command. Tests replace it.
var runtimeLoader = func(ctx context.Context, logger *slog.Logger, opts ...config.Option) (*config.Runtime, error) {
	cfg, err := config.Load(append([]config.Option{config.WithEnv()}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.Build(ctx, logger)
}

func loadRuntime(cmd *cobra.Command, opts ...config.Option) (*config.Runtime, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return runtimeLoader(cmd.Context(), logger, opts...)
}

func useJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
