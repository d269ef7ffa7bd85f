package cmd

import (
	"fmt"
	"sort"

	"archive-bot/database"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate guild stores",
	Long: `Create each guild's archive.db with the current raw_archive schema, migrating a
legacy table in place when one is found. Without --guild every configured guild is
initialized.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	guilds := []string{guildFlag}
	if guildFlag == "" {
		guilds = guilds[:0]
		for g := range cfg.Channels {
			guilds = append(guilds, g)
		}
		sort.Strings(guilds)
	}
	if len(guilds) == 0 {
		return fmt.Errorf("no guilds configured; pass --guild")
	}

	out := cmd.OutOrStdout()
	for _, g := range guilds {
		report, err := database.InitializeStoreIfNeeded(cmd.Context(), cfg.OutputDir, g)
		if err != nil {
			return fmt.Errorf("guild %s: %w", g, err)
		}
		if !report.Migrated {
			fmt.Fprintf(out, "%s: store ready\n", g)
			continue
		}
		fmt.Fprintf(out, "%s: migrated %d legacy rows, %d with dropped fields\n", g, report.Rows, len(report.Lossy))
		for _, d := range report.Lossy {
			for _, f := range d.Fields {
				fmt.Fprintf(out, "    %s %s\n", d.ID, f.String())
			}
		}
	}
	return nil
}
