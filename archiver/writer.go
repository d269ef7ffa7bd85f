package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"archive-bot/database"
	"archive-bot/ledger"
	"archive-bot/metrics"
	"archive-bot/models"
	"archive-bot/normalize"
)

// AttachmentDownloader stores an attachment somewhere durable.
type AttachmentDownloader interface {
	Download(ctx context.Context, guildID, channelID, messageID string, attachment models.RawAttachment) error
}

// RunReport counts what one archive run did.
type RunReport struct {
	GuildID            string
	ChannelID          string
	ChannelName        string
	RunTimestamp       int64
	Pages              int
	FetchFailed        bool
	Fetched            int
	Written            int
	Inserted           int
	SkippedNoAuthor    int
	AttachmentFailures int
}

// Writer commits a fetched batch to files, ledger and store.
type Writer struct {
	outputDir  string
	ledger     *ledger.Ledger
	downloader AttachmentDownloader
	logger     *slog.Logger
}

// NewWriter creates a Writer. downloader may be nil.
func NewWriter(outputDir string, l *ledger.Ledger, downloader AttachmentDownloader, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{outputDir: outputDir, ledger: l, downloader: downloader, logger: logger}
}

// Write persists msgs as run runTs of channel. It writes archive_<T>.json and
// authors_<T>.json, appends the archive ledger entry, then upserts rows in one
// transaction and appends the databaseInsertion entry. An empty batch writes
// nothing and returns "".
func (w *Writer) Write(ctx context.Context, store *database.Store, channel models.ChannelRef, msgs []*models.RawMessage, runTs int64) (string, RunReport, error) {
	report := RunReport{
		GuildID:      channel.GuildID,
		ChannelID:    channel.ID,
		ChannelName:  channel.Name,
		RunTimestamp: runTs,
		Fetched:      len(msgs),
	}
	if len(msgs) == 0 {
		return "", report, nil
	}

	ordered := make([]*models.RawMessage, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return normalize.CompareSnowflakes(ordered[i].ID, ordered[j].ID) < 0
	})

	scrubbed := make([]models.ArchivedMessage, 0, len(ordered))
	for _, m := range ordered {
		scrubbed = append(scrubbed, normalize.Scrub(m))
	}
	authors := BuildAuthorIndex(ordered)

	channelDir := ChannelDirName(channel.Name, channel.ID)
	archiveRel := filepath.ToSlash(filepath.Join(channelDir, ArchiveFileName(runTs)))
	archivePath := filepath.Join(w.outputDir, channel.GuildID, channelDir, ArchiveFileName(runTs))
	authorsPath := filepath.Join(w.outputDir, channel.GuildID, channelDir, AuthorsFileName(runTs))

	if err := writeJSONAtomic(archivePath, scrubbed); err != nil {
		return "", report, err
	}
	if err := writeJSONAtomic(authorsPath, authors); err != nil {
		return "", report, err
	}
	report.Written = len(scrubbed)
	metrics.ArchivedMessages.WithLabelValues(channel.GuildID).Add(float64(report.Written))

	report.AttachmentFailures = w.downloadAttachments(ctx, channel, ordered)

	if err := w.appendLedger(models.TaskArchive, channel, runTs); err != nil {
		return archivePath, report, err
	}

	rows, skipped, err := BuildRows(channel, scrubbed, NewAuthorLookup(authors), archiveRel)
	if err != nil {
		return archivePath, report, err
	}
	report.SkippedNoAuthor = len(skipped)
	for _, id := range skipped {
		w.logger.Warn("skipping message with unresolvable author",
			"guild_id", channel.GuildID, "channel_id", channel.ID, "message_id", id)
	}
	metrics.SkippedMessages.WithLabelValues(metrics.ReasonNoAuthor).Add(float64(len(skipped)))

	inserted, err := store.UpsertRows(ctx, rows)
	if err != nil {
		return archivePath, report, fmt.Errorf("failed to insert channel %s: %w", channel.ID, err)
	}
	report.Inserted = inserted
	if err := w.appendLedger(models.TaskDatabaseInsertion, channel, runTs); err != nil {
		return archivePath, report, err
	}

	if reactionsFetched(ordered) {
		if err := w.appendLedger(models.TaskReaction, channel, runTs); err != nil {
			return archivePath, report, err
		}
	}
	return archivePath, report, nil
}

// BuildRows turns scrubbed messages into store rows. Messages whose author cannot be
// resolved are returned by id instead.
func BuildRows(channel models.ChannelRef, msgs []models.ArchivedMessage, authors AuthorLookup, archiveFile string) ([]models.RawArchiveRow, []string, error) {
	rows := make([]models.RawArchiveRow, 0, len(msgs))
	var skipped []string
	for _, m := range msgs {
		author := authors.Resolve(m.ID)
		if author == nil {
			skipped = append(skipped, m.ID)
			continue
		}
		md, err := normalize.MetadataColumn(m.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		rows = append(rows, models.RawArchiveRow{
			ID:               m.ID,
			CreatedTimestamp: m.CreatedTimestamp,
			Content:          m.Content,
			AuthorID:         author.ID,
			GuildID:          channel.GuildID,
			ChannelID:        channel.ID,
			ChannelName:      channel.Name,
			ArchiveFile:      archiveFile,
			Metadata:         md,
		})
	}
	return rows, skipped, nil
}

func (w *Writer) appendLedger(task models.Task, channel models.ChannelRef, runTs int64) error {
	err := w.ledger.Append(models.LedgerEntry{
		Task:        task,
		GuildID:     channel.GuildID,
		ChannelID:   channel.ID,
		TimestampMs: runTs,
	})
	if err != nil {
		return fmt.Errorf("failed to append %s ledger entry: %w", task, err)
	}
	return nil
}

func (w *Writer) downloadAttachments(ctx context.Context, channel models.ChannelRef, msgs []*models.RawMessage) int {
	if w.downloader == nil {
		return 0
	}
	failures := 0
	for _, m := range msgs {
		for _, a := range m.Attachments {
			if err := w.downloader.Download(ctx, channel.GuildID, channel.ID, m.ID, a); err != nil {
				failures++
				w.logger.Warn("attachment download failed",
					"channel_id", channel.ID, "message_id", m.ID, "attachment", a.Filename, "error", err)
			}
		}
	}
	metrics.SkippedMessages.WithLabelValues(metrics.ReasonAttachmentFailure).Add(float64(failures))
	return failures
}

func reactionsFetched(msgs []*models.RawMessage) bool {
	for _, m := range msgs {
		for _, r := range m.Reactions {
			if r.Users != nil {
				return true
			}
		}
	}
	return false
}
