package commands

import (
	"github.com/spf13/cobra"

	"github.com/sho7650/media-stage/internal/mpris"
)

var playersCmd = &cobra.Command{
	Use:   "players",
	Short: "List MPRIS media players on the session bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		dests, err := mpris.Discover()
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(dests))
		for _, dest := range dests {
			player, err := mpris.NewPlayer(dest, mpris.Options{})
			if err != nil {
				rows = append(rows, []string{dest, "unreachable", ""})
				continue
			}
			rows = append(rows, []string{dest, orNone(player.PlaybackStatus()), player.Metadata().URL()})
		}
		printTable(cmd.OutOrStdout(), []string{"Destination", "Status", "Track"}, rows)
		return nil
	},
}
