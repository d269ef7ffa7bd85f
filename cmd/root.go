// Package cmd provides the archive-bot command line.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"archive-bot/config"
	"archive-bot/models"

	"github.com/spf13/cobra"
)

var (
	outputDir string
	guildFlag string

	cfg *models.ArchiveConfig

	// loadConfig is replaced in tests.
	loadConfig = config.Load
)

// errAuditFailed signals a failed hard check; main turns it into exit status 1.
var errAuditFailed = errors.New("audit failed")

var rootCmd = &cobra.Command{
	Use:   "archive-bot",
	Short: "Incremental channel archiver with integrity auditing",
	Long: `archive-bot archives channel history into per-run JSON snapshots and a
per-guild SQLite store, replays snapshots into the store, and audits the store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		if outputDir != "" {
			loaded.OutputDir = outputDir
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output_dir)")
	rootCmd.PersistentFlags().StringVarP(&guildFlag, "guild", "g", "", "Limit the command to one guild")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
