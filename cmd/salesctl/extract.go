package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/propertysales/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	extractDir    string
	extractOutput string
	extractSQLite string
	extractBundle bool
	extractJSON   bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Unpack archives and write the normalized sales table",
	Long: `Unpack every archive in the archive directory, link and map its records,
normalize them and write the result to every configured sink.

Examples:
  # Use ARCHIVE_DIR and OUTPUT_PATH from the environment
  salesctl extract

  # Override locations and also load a SQLite database
  salesctl extract --dir ./data --output sales.csv --sqlite sales.db

  # Print the run summary as JSON
  salesctl extract --json`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractDir, "dir", "", "archive directory (overrides ARCHIVE_DIR)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "CSV output path (overrides OUTPUT_PATH)")
	extractCmd.Flags().StringVar(&extractSQLite, "sqlite", "", "also write a SQLite database (overrides SQLITE_PATH)")
	extractCmd.Flags().BoolVar(&extractBundle, "bundle", false, "zip the CSV into OUTPUT_BUNDLE_DIR")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the run summary as JSON")
}

func runExtract(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Pipeline.ArchiveDir = extractDir
	}
	if flags.Changed("output") {
		cfg.Output.Path = extractOutput
	}
	if flags.Changed("sqlite") {
		cfg.Output.SQLitePath = extractSQLite
	}
	if flags.Changed("bundle") {
		cfg.Output.Bundle = extractBundle
	}

	ctx := cmd.Context()
	opts, cleanup, err := buildOptions(ctx, cfg, pipeline.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer cleanup()

	res, runErr := pipeline.Run(ctx, opts)
	if res != nil {
		if extractJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printSummary(cmd.OutOrStdout(), res)
		}
	}
	return runErr
}

func printSummary(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "archives:        %d (%d data members, %d nested, %d problems)\n",
		res.Archive.Archives, res.Archive.DataMembers, res.Archive.NestedArchives, len(res.Archive.Problems))
	fmt.Fprintf(w, "lines:           %d\n", res.Parse.Lines)
	fmt.Fprintf(w, "records:         %d current, %d archived\n", res.Parse.Current, res.Parse.Archived)
	fmt.Fprintf(w, "dropped short:   %d\n", res.Parse.Dropped())
	fmt.Fprintf(w, "linked:          %d (%d without description)\n", res.Parse.Linked, res.Parse.Unlinked)
	fmt.Fprintf(w, "date filtered:   %d future, %d before boundary\n",
		res.Normalize.FutureDropped, res.Normalize.PreBoundaryDropped)
	fmt.Fprintf(w, "duplicates:      %d\n", res.Normalize.DuplicatesDropped)
	fmt.Fprintf(w, "rows:            %d\n", res.Rows)
	for _, s := range res.Sinks {
		if s.Error != "" {
			fmt.Fprintf(w, "sink %-10s %s: %s\n", s.Name, s.Status, s.Error)
			continue
		}
		fmt.Fprintf(w, "sink %-10s %s\n", s.Name, s.Status)
	}
	if res.Bundle != nil {
		fmt.Fprintf(w, "bundle:          %s\n", res.Bundle.Dated)
	}
	fmt.Fprintf(w, "duration:        %s\n", res.Duration.Round(time.Millisecond))
}
