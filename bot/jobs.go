package bot

import (
	"context"
	"fmt"
	"log/slog"

	"archive-bot/archiver"
	"archive-bot/audit"
	"archive-bot/backfill"
	"archive-bot/config"
	"archive-bot/database"
	"archive-bot/models"
	"archive-bot/scanner"
	"archive-bot/utils"
)

// ChannelSource is what an archive pass needs from the platform.
type ChannelSource interface {
	scanner.MessageSource
	archiver.ChannelNamer
}

// ArchiveAll archives every configured channel, or only guildID's when it is set,
// and records the outcome in the status file.
func ArchiveAll(ctx context.Context, cfg *models.ArchiveConfig, source ChannelSource, guildID string) ([]archiver.ChannelOutcome, error) {
	channels := config.Channels(cfg)
	if guildID != "" {
		channels = config.ChannelsForGuild(cfg, guildID)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no archive channels configured")
	}

	fetcher := scanner.NewFetcher(source, scanner.Settings{
		PageSize:     cfg.Archive.PageSize,
		PageDelay:    cfg.Archive.PageDelay,
		RetryBackoff: cfg.Archive.RetryBackoff,
		MaxRetries:   cfg.Archive.MaxRetries,
	})
	a := archiver.New(fetcher, archiver.Options{
		OutputDir: cfg.OutputDir,
		LeaseTTL:  cfg.Archive.LeaseTTL,
		Namer:     source,
		Logger:    slog.Default().With("component", "archiver"),
	})

	outcomes := a.ArchiveChannels(ctx, channels)
	if err := archiver.RecordStatus(database.NewStatusManager(cfg.OutputDir), outcomes); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// AuditAll audits guildID, or every guild when it is empty, and records each guild's
// outcome in the status file.
func AuditAll(ctx context.Context, cfg *models.ArchiveConfig, guildID string) (audit.Report, error) {
	mirror, err := database.BuildSnapshotMirrorFromDSN(cfg.Audit.MirrorDSN)
	if err != nil {
		return audit.Report{}, err
	}
	if mirror != nil {
		defer mirror.Close()
	}

	auditor := audit.New(audit.Options{
		OutputDir: cfg.OutputDir,
		Settings: audit.Settings{
			MonotonicToleranceMs: cfg.Audit.MonotonicToleranceMs,
			ContentMaxLength:     cfg.Audit.ContentMaxLength,
		},
		Mirror: mirror,
		Logger: slog.Default().With("component", "audit"),
	})
	report, err := auditor.Audit(ctx, guildID)
	if err != nil {
		return report, err
	}

	sm := database.NewStatusManager(cfg.OutputDir)
	for _, g := range report.Guilds {
		sm.Record(g.GuildID, database.RunAudit, !g.Failed(), g.Summary())
	}
	return report, sm.Save()
}

// BackfillAll backfills guildID, or every guild when it is empty. A guild that fails
// is reported in its summary and does not stop the others. Dry runs leave the status
// file alone.
func BackfillAll(ctx context.Context, cfg *models.ArchiveConfig, guildID string, dryRun bool) ([]backfill.Summary, error) {
	guilds := []string{guildID}
	if guildID == "" {
		var err error
		if guilds, err = archiver.DiscoverGuilds(cfg.OutputDir); err != nil {
			return nil, err
		}
	}

	r := backfill.New(backfill.Options{
		OutputDir:     cfg.OutputDir,
		SpotCheckSize: cfg.Backfill.SpotCheckSize,
		DryRun:        dryRun,
		Logger:        slog.Default().With("component", "backfill"),
	})
	sm := database.NewStatusManager(cfg.OutputDir)

	var (
		summaries []backfill.Summary
		failed    int
	)
	for _, g := range guilds {
		summary, err := r.Backfill(ctx, g)
		if ctx.Err() != nil {
			return summaries, ctx.Err()
		}
		ok := err == nil && summary.OK()
		if err != nil {
			utils.Error("backfill", "BackfillAll", fmt.Sprintf("guild %s: %v", g, err))
			summary.ChannelErrors = append(summary.ChannelErrors, backfill.ChannelError{Err: err.Error()})
		}
		if !ok {
			failed++
		}
		summaries = append(summaries, summary)
		if !dryRun {
			sm.Record(g, database.RunBackfill, ok, fmt.Sprintf("%d inserted, %d skipped, %d invalid, %d problems",
				summary.Inserted, summary.SkippedNoAuthor, summary.Invalid,
				len(summary.ChannelErrors)+len(summary.SpotCheckFailures)+len(summary.MissingColumns)))
		}
	}
	if !dryRun {
		if err := sm.Save(); err != nil {
			return summaries, err
		}
	}
	if failed > 0 {
		return summaries, fmt.Errorf("backfill reported problems in %d of %d guilds", failed, len(guilds))
	}
	return summaries, nil
}
