package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sho7650/media-stage/internal/config"
	"github.com/sho7650/media-stage/internal/storage"
)

var (
	recordsKey     string
	recordsOutcome string
	recordsLimit   int
	recordsLatest  bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List the preload history",
	Long: `List the preload history, newest first.

Use --latest to show only the most recent fetch of each configured media
key, and "records show <id>" for the full detail of one fetch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, store, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var records []*storage.PreloadRecord
		if recordsLatest {
			records, err = latestRecords(ctx, store, cfg)
		} else {
			records, err = store.QueryPreloads(ctx, storage.PreloadQuery{
				Key:     recordsKey,
				Outcome: recordsOutcome,
				Limit:   recordsLimit,
			})
		}
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No preload records found")
			return nil
		}

		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{
				rec.ID,
				rec.FetchedAt.Local().Format(time.DateTime),
				rec.Key,
				rec.Outcome,
				strconv.FormatInt(rec.SizeBytes, 10),
				rec.Duration.Round(time.Millisecond).String(),
				rec.Error,
			})
		}
		printTable(cmd.OutOrStdout(), []string{"ID", "Fetched At", "Key", "Outcome", "Size", "Duration", "Error"}, rows)
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one preload record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, store, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rec, err := store.GetPreload(ctx, args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("preload record %s not found", args[0])
		}

		printRecord(cmd.OutOrStdout(), rec)
		return nil
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsKey, "key", "", "Only show records for this media key")
	recordsCmd.Flags().StringVar(&recordsOutcome, "outcome", "", "Only show records with this outcome (fetched, failed)")
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 20, "Maximum number of records")
	recordsCmd.Flags().BoolVar(&recordsLatest, "latest", false, "Show the latest record of each configured media key")

	recordsCmd.AddCommand(recordsShowCmd)
}

func openHistory(ctx context.Context) (*config.Config, *storage.SQLiteStorage, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to open preload history: %w", err)
	}
	return cfg, store, nil
}

// latestRecords returns the newest record per configured key, or only for
// --key when it is set. Keys never preloaded are skipped.
func latestRecords(ctx context.Context, store storage.PreloadStore, cfg *config.Config) ([]*storage.PreloadRecord, error) {
	keys := []string{recordsKey}
	if recordsKey == "" {
		keys = keys[:0]
		for key := range cfg.Media {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}

	var records []*storage.PreloadRecord
	for _, key := range keys {
		rec, err := store.LatestForKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func printRecord(w io.Writer, rec *storage.PreloadRecord) {
	printTable(w, []string{"Field", "Value"}, [][]string{
		{"ID", rec.ID},
		{"Key", rec.Key},
		{"URL", rec.URL},
		{"Location", orNone(rec.Location)},
		{"Checksum", orNone(rec.Checksum)},
		{"Size", strconv.FormatInt(rec.SizeBytes, 10)},
		{"Outcome", rec.Outcome},
		{"Error", orNone(rec.Error)},
		{"Duration", rec.Duration.Round(time.Millisecond).String()},
		{"Fetched At", rec.FetchedAt.Local().Format(time.DateTime)},
	})
}
