package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
	"github.com/tendant/simple-asset/pkg/simpleasset/reconcile"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	var kind, search, sortBy string
	var asc bool
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := simpleasset.ListFilters{
				Search:   search,
				SortBy:   simpleasset.SortField(sortBy),
				SortAsc:  asc,
				Page:     page,
				PageSize: pageSize,
			}
			if kind != "" {
				k := simpleasset.AssetKind(kind)
				if !k.IsValid() {
					return fmt.Errorf("type must be 'image' or 'video', got: %s", kind)
				}
				filters.Kind = &k
			}

			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.Service.ListAssets(cmd.Context(), filters)
			if err != nil {
				return fmt.Errorf("list failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if useJSON(cmd) {
				return printJSON(out, result)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tNAME\tTYPE\tSIZE\tUSED IN\tPATH\tCREATED\n")
			for _, a := range result.Assets {
				usedIn := strings.Join(a.UsedIn, ",")
				if usedIn == "" {
					usedIn = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					a.ID.String()[:8]+"...",
					truncate(a.Name, 24),
					a.Kind,
					simpleasset.HumanSize(a.SizeBytes),
					truncate(usedIn, 24),
					a.StoragePath,
					a.CreatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			w.Flush()

			fmt.Fprintf(out, "\nPage %d, showing %d of %d", result.Page, len(result.Assets), result.Total)
			if result.HasNext {
				fmt.Fprintf(out, " (use --page=%d to continue)", result.Page+1)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", "", "Filter by type (image, video)")
	cmd.Flags().StringVar(&search, "search", "", "Match name or usage tags")
	cmd.Flags().StringVar(&sortBy, "sort", string(simpleasset.SortByCreatedAt), "Sort by created_at, name, or size_bytes")
	cmd.Flags().BoolVar(&asc, "asc", false, "Sort ascending")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", simpleasset.DefaultPageSize, "Results per page")

	return cmd
}

// NewStatsCommand creates the stats command
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show asset counts and total size",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.Service.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if useJSON(cmd) {
				return printJSON(out, stats)
			}
			fmt.Fprintln(out, "=== Asset Statistics ===")
			fmt.Fprintf(out, "\nTotal:  %d (%s)\n", stats.TotalCount, simpleasset.HumanSize(stats.TotalSizeBytes))
			fmt.Fprintf(out, "Images: %d\n", stats.ImageCount)
			fmt.Fprintf(out, "Videos: %d\n", stats.VideoCount)
			fmt.Fprintf(out, "Unused: %d\n", stats.UnusedCount)
			return nil
		},
	}
}

// NewOrphansCommand creates the orphans command
func NewOrphansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List assets nothing references",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			orphans, err := rt.Service.Orphans(cmd.Context())
			if err != nil {
				return fmt.Errorf("orphans failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if useJSON(cmd) {
				return printJSON(out, orphans)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tNAME\tSIZE\tPATH\n")
			for _, a := range orphans {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, truncate(a.Name, 24), simpleasset.HumanSize(a.SizeBytes), a.StoragePath)
			}
			w.Flush()
			fmt.Fprintf(out, "\nTotal: %d\n", len(orphans))
			return nil
		},
	}
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete <asset-id>",
		Short: "Delete an asset's bytes and record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset ID: %w", err)
			}

			// Require confirmation unless --confirm flag is set
			if !confirm {
				fmt.Fprintf(cmd.OutOrStdout(), "Are you sure you want to delete asset %s? (y/N): ", id)
				var response string
				fmt.Fscanln(cmd.InOrStdin(), &response)
				if response != "y" && response != "Y" {
					fmt.Fprintln(cmd.OutOrStdout(), "Delete cancelled.")
					return nil
				}
			}

			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.Service.Delete(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}

			if useJSON(cmd) {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Asset %s: %s\n", id, result.Summary())
			}
			if !result.Complete() {
				return fmt.Errorf("delete incomplete: %w", result.Err())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirm, "confirm", "y", false, "Skip confirmation prompt")

	return cmd
}

// NewPurgeCommand creates the purge command
func NewPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <storage-path>...",
		Short: "Delete orphan blobs no asset points to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			var errs []error
			for _, path := range args {
				if err := rt.Service.PurgeBlob(cmd.Context(), path); err != nil {
					errs = append(errs, err)
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: purged\n", path)
			}
			return errors.Join(errs...)
		},
	}
}

// NewReconcileCommand creates the reconcile command
func NewReconcileCommand() *cobra.Command {
	var opts reconcile.Options

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find blobs without records and records without blobs",
		Long: `Compare the blob store with the catalog.

Reports orphan blobs (bytes no record points to) and missing blobs (records
whose bytes are gone). With --purge-orphans and --drop-missing the findings
are repaired; --dry-run reports what would be repaired.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			lister, ok := rt.BlobStore.(simpleasset.BlobLister)
			if !ok {
				return fmt.Errorf("storage backend cannot list objects")
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				opts.OnProgress = func(checked, total int64) {
					fmt.Fprintf(cmd.ErrOrStderr(), "checked %d of %d records\n", checked, total)
				}
			}

			rc := reconcile.New(rt.Catalog, lister, reconcile.WithRepairer(rt.Service))
			result, err := rc.Run(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if useJSON(cmd) {
				return printJSON(out, result)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "KIND\tPATH\tASSET\tSIZE\tREPAIRED\n")
			for _, f := range result.Findings {
				asset := "-"
				if f.AssetID != uuid.Nil {
					asset = f.AssetID.String()
				}
				repaired := fmt.Sprint(f.Repaired)
				if f.Error != "" {
					repaired = "error: " + f.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Kind, f.StoragePath, asset, simpleasset.HumanSize(f.SizeBytes), repaired)
			}
			w.Flush()

			fmt.Fprintf(out, "\nBlobs checked: %d (skipped %d recent)\n", result.BlobsChecked, result.SkippedRecent)
			fmt.Fprintf(out, "Records checked: %d\n", result.AssetsChecked)
			fmt.Fprintf(out, "Orphan blobs: %d, missing blobs: %d\n", result.Count(reconcile.OrphanBlob), result.Count(reconcile.MissingBlob))
			if opts.DryRun {
				fmt.Fprintln(out, "Dry run: nothing was changed")
			} else if opts.PurgeOrphans || opts.DropMissing {
				fmt.Fprintf(out, "Repaired: %d, failed: %d\n", result.Repaired, result.Failed)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d repairs failed", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Only check paths under this prefix, e.g. fragrances/")
	cmd.Flags().DurationVar(&opts.MinAge, "min-age", reconcile.DefaultMinAge, "Skip blobs younger than this")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 100, "Catalog records read per page")
	cmd.Flags().BoolVar(&opts.PurgeOrphans, "purge-orphans", false, "Delete orphan blobs")
	cmd.Flags().BoolVar(&opts.DropMissing, "drop-missing", false, "Delete records whose blob is gone")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report repairs without making them")

	return cmd
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres catalog schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			rt, err := loadRuntime(cmd, config.WithMigrations(true))
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema applied in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
