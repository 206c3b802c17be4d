package commands

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sho7650/media-stage/internal/preload"
	"github.com/sho7650/media-stage/internal/storage"
)

var preloadRecord bool

var preloadCmd = &cobra.Command{
	Use:   "preload [keys...]",
	Short: "Fetch media and report each preload outcome",
	Long: `Fetch the given media keys (default: preload.keys from the config) the
way the daemon does on start and print how each future resolved.

Spooled files are removed when the command exits. Use --record to append
the fetches to the preload history database.`,
	RunE: runPreload,
}

func init() {
	preloadCmd.Flags().BoolVar(&preloadRecord, "record", false, "Write fetch outcomes to the preload history database")
}

func runPreload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	keys := args
	if len(keys) == 0 {
		keys = cfg.Preload.Keys
	}
	if len(keys) == 0 {
		return fmt.Errorf("no keys given and preload.keys is empty")
	}

	spoolDir := cfg.Preload.SpoolDir
	if spoolDir == "" {
		dir, err := os.MkdirTemp("", "media-stage-preload-*")
		if err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		spoolDir = dir
	}

	opts := preload.Options{Timeout: cfg.Preload.TimeoutDuration(preload.DefaultTimeout)}
	if preloadRecord {
		store := storage.NewSQLiteStorage(cfg.Database.Path)
		if err := store.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to open preload history: %w", err)
		}
		defer func() { _ = store.Close() }()
		opts.Recorder = store
	}

	cache := preload.New(preload.NewHTTPFetcher(&http.Client{}, spoolDir), cfg.Catalog(), opts)
	defer func() { _ = cache.Close() }()

	results, err := cache.PreloadAll(ctx, keys...)
	if err != nil {
		return fmt.Errorf("preload interrupted: %w", err)
	}

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, preloadRow(cache, res))
	}
	printTable(cmd.OutOrStdout(), []string{"Key", "Outcome", "Readiness", "Size", "Error"}, rows)
	return nil
}

func preloadRow(cache *preload.Cache, res preload.Result) []string {
	readiness, size := "-", "-"
	if r, ok := cache.Lookup(res.Key); ok {
		readiness = r.Readiness().String()
		if n := r.Size(); n > 0 {
			size = strconv.FormatInt(n, 10)
		}
	}

	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	return []string{res.Key, res.Outcome.String(), readiness, size, errText}
}
