package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✅ %s is valid\n\n", cfgFile)

		keys := make([]string, 0, len(cfg.Media))
		for key := range cfg.Media {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		rows := make([][]string, 0, len(keys))
		for _, key := range keys {
			m := cfg.Media[key]
			rows = append(rows, []string{
				key,
				fmt.Sprintf("%gs-%gs", m.LoopStart, m.LoopEnd),
				m.URL,
			})
		}
		printTable(out, []string{"Key", "Loop", "URL"}, rows)

		fmt.Fprintln(out)
		fmt.Fprintf(out, "Preload on start: %s\n", orNone(strings.Join(cfg.Preload.Keys, ", ")))
		fmt.Fprintf(out, "Busy indicator:   show after %s, visible at least %s\n", cfg.Activity.ShowDelay, cfg.Activity.MinDisplay)
		fmt.Fprintf(out, "MPRIS player:     %s\n", orNone(cfg.Playback.MPRISDest))
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
