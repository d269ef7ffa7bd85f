package cmd

import (
	"fmt"

	"archive-bot/bot"
	"archive-bot/models"
	"archive-bot/platform"

	"github.com/spf13/cobra"
)

var archiveChannel string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive new messages of the configured channels",
	Long: `Fetch every message newer than the channel's last archive run, write a new
archive_<T>.json and authors_<T>.json snapshot, and upsert the messages into the
guild store. Channels without new messages are left untouched.

Examples:
  archive-bot archive                          # all configured channels
  archive-bot archive -g 1234                  # one guild
  archive-bot archive -g 1234 --channel 5678   # one channel`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringVar(&archiveChannel, "channel", "", "Archive a single channel (requires --guild)")
}

func runArchive(cmd *cobra.Command, args []string) error {
	runCfg := cfg
	if archiveChannel != "" {
		if guildFlag == "" {
			return fmt.Errorf("--channel requires --guild")
		}
		single := *cfg
		single.Channels = map[string]models.GuildChannels{
			guildFlag: {Channels: []string{archiveChannel}},
		}
		runCfg = &single
	}

	session, err := bot.NewSession(cfg.BotToken)
	if err != nil {
		return err
	}
	source := platform.NewDiscordSource(session, cfg.Archive.FetchReactions)

	outcomes, err := bot.ArchiveAll(cmd.Context(), runCfg, source, guildFlag)
	out := cmd.OutOrStdout()
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			fmt.Fprintf(out, "%s/%s: error: %v\n", o.Channel.GuildID, o.Channel.ID, o.Err)
		case o.Report.FetchFailed:
			failed++
			fmt.Fprintf(out, "%s/%s: fetch failed, nothing written\n", o.Channel.GuildID, o.Channel.ID)
		case o.Path == "":
			fmt.Fprintf(out, "%s/%s: no new messages\n", o.Channel.GuildID, o.Channel.ID)
		default:
			fmt.Fprintf(out, "%s/%s: %d messages -> %s (%d rows, %d skipped)\n", o.Channel.GuildID, o.Channel.ID,
				o.Report.Written, o.Path, o.Report.Inserted, o.Report.SkippedNoAuthor)
		}
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed", failed, len(outcomes))
	}
	return nil
}
