// Package archiver runs incremental archive passes over configured channels.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"archive-bot/database"
	"archive-bot/ledger"
	"archive-bot/metrics"
	"archive-bot/models"
	"archive-bot/scanner"
)

// ChannelNamer resolves a channel's current name when the configuration has none.
type ChannelNamer interface {
	ChannelName(ctx context.Context, channelID string) (string, error)
}

// Options configures an Archiver.
type Options struct {
	OutputDir  string
	LeaseTTL   time.Duration
	Downloader AttachmentDownloader
	Namer      ChannelNamer
	Logger     *slog.Logger
}

// Archiver ties the ledger, the fetcher and the writer together.
type Archiver struct {
	opts    Options
	ledger  *ledger.Ledger
	fetcher *scanner.Fetcher
	writer  *Writer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Archiver writing under opts.OutputDir.
func New(fetcher *scanner.Fetcher, opts Options) *Archiver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}
	l := ledger.New(opts.OutputDir)
	return &Archiver{
		opts:    opts,
		ledger:  l,
		fetcher: fetcher,
		writer:  NewWriter(opts.OutputDir, l, opts.Downloader, opts.Logger),
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// ArchiveChannel archives everything newer than the channel's watermark. It returns
// the snapshot path, or "" when there was nothing new.
func (a *Archiver) ArchiveChannel(ctx context.Context, channel models.ChannelRef) (string, RunReport, error) {
	report := RunReport{GuildID: channel.GuildID, ChannelID: channel.ID}

	store, _, err := database.OpenGuildStore(ctx, a.opts.OutputDir, channel.GuildID)
	if err != nil {
		metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return "", report, err
	}
	defer store.Close()

	lease, err := store.AcquireLease(ctx, channel.ID, a.opts.LeaseTTL)
	if err != nil {
		status := "error"
		if errors.Is(err, database.ErrChannelBusy) {
			status = "busy"
		}
		metrics.ArchiveRuns.WithLabelValues(status).Inc()
		return "", report, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to release lease", "channel_id", channel.ID, "error", err)
		}
	}()

	if channel.Name == "" {
		channel.Name = a.resolveName(ctx, channel.ID)
	}
	report.ChannelName = channel.Name

	runTs := a.now().UnixMilli()
	report.RunTimestamp = runTs

	last, err := a.ledger.LastArchiveTime(channel.GuildID, channel.ID)
	if err != nil {
		metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return "", report, err
	}

	batch, err := a.fetcher.Fetch(ctx, channel.ID, last)
	if err != nil {
		metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return "", report, err
	}
	report.Pages = batch.Pages
	report.FetchFailed = batch.Failed
	if batch.Failed {
		metrics.ArchiveRuns.WithLabelValues("fetch_failed").Inc()
		return "", report, nil
	}
	if len(batch.Messages) == 0 {
		a.logger.Info("no new messages", "guild_id", channel.GuildID, "channel_id", channel.ID, "since", last)
		metrics.ArchiveRuns.WithLabelValues("empty").Inc()
		return "", report, nil
	}

	path, written, err := a.writer.Write(ctx, store, channel, batch.Messages, runTs)
	written.Pages = report.Pages
	if err != nil {
		metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return path, written, err
	}
	metrics.ArchiveRuns.WithLabelValues("written").Inc()
	a.logger.Info("archived channel",
		"guild_id", channel.GuildID, "channel_id", channel.ID, "messages", written.Written,
		"inserted", written.Inserted, "skipped_no_author", written.SkippedNoAuthor, "path", path)
	return path, written, nil
}

// ChannelOutcome is the result of archiving one channel in a multi-channel pass.
type ChannelOutcome struct {
	Channel models.ChannelRef
	Path    string
	Report  RunReport
	Err     error
}

// ArchiveChannels archives channels one at a time. A failing channel is logged and
// reported without stopping the others.
func (a *Archiver) ArchiveChannels(ctx context.Context, channels []models.ChannelRef) []ChannelOutcome {
	outcomes := make([]ChannelOutcome, 0, len(channels))
	for _, ch := range channels {
		if ctx.Err() != nil {
			outcomes = append(outcomes, ChannelOutcome{Channel: ch, Err: ctx.Err()})
			continue
		}
		path, report, err := a.ArchiveChannel(ctx, ch)
		if err != nil {
			a.logger.Error("archive failed", "guild_id", ch.GuildID, "channel_id", ch.ID, "error", err)
		}
		outcomes = append(outcomes, ChannelOutcome{Channel: ch, Path: path, Report: report, Err: err})
	}
	return outcomes
}

// RecordStatus summarizes outcomes per guild into the status file.
func RecordStatus(sm *database.StatusManager, outcomes []ChannelOutcome) error {
	type tally struct{ written, empty, failed, messages int }
	byGuild := make(map[string]*tally)
	for _, o := range outcomes {
		t, ok := byGuild[o.Channel.GuildID]
		if !ok {
			t = &tally{}
			byGuild[o.Channel.GuildID] = t
		}
		switch {
		case o.Err != nil || o.Report.FetchFailed:
			t.failed++
		case o.Path == "":
			t.empty++
		default:
			t.written++
			t.messages += o.Report.Written
		}
	}
	for guildID, t := range byGuild {
		summary := fmt.Sprintf("%d channels written (%d messages), %d unchanged, %d failed",
			t.written, t.messages, t.empty, t.failed)
		sm.Record(guildID, database.RunArchive, t.failed == 0, summary)
	}
	return sm.Save()
}

// resolveName falls back to the channel id so rows never carry an empty name.
func (a *Archiver) resolveName(ctx context.Context, channelID string) string {
	if a.opts.Namer == nil {
		return channelID
	}
	name, err := a.opts.Namer.ChannelName(ctx, channelID)
	if err != nil || name == "" {
		a.logger.Warn("could not resolve channel name", "channel_id", channelID, "error", err)
		return channelID
	}
	return name
}
