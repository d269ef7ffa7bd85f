package cmd

import (
	"fmt"

	"archive-bot/bot"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check guild stores and record snapshots",
	Long: `Run the integrity checks against every guild store (or --guild), record a
per-channel snapshot, and compare it with the previous one. Exits with status 1 when
any hard check fails.`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	report, err := bot.AuditAll(cmd.Context(), cfg, guildFlag)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.String())
	if !report.Passed() {
		return errAuditFailed
	}
	return nil
}
