package cmd

import (
	"fmt"

	"archive-bot/bot"

	"github.com/spf13/cobra"
)

var backfillDryRun bool

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay every archive snapshot into the guild store",
	Long: `Re-read every archive_<T>.json with its authors_<T>.json, upgrade historical
record shapes, and upsert the result. Safe to repeat: a second run changes nothing.
Finishes with a spot check of stored metadata.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Decode and count without writing")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	summaries, err := bot.BackfillAll(cmd.Context(), cfg, guildFlag, backfillDryRun)
	for _, s := range summaries {
		fmt.Fprint(cmd.OutOrStdout(), s.String())
	}
	return err
}
