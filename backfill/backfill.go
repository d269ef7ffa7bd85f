// Package backfill replays every archived snapshot of a guild into its store.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"archive-bot/archiver"
	"archive-bot/database"
	"archive-bot/metrics"
	"archive-bot/models"
	"archive-bot/normalize"
)

// Options configures a Reconciler.
type Options struct {
	OutputDir     string
	SpotCheckSize int
	// DryRun decodes and counts without touching the store.
	DryRun bool
	Logger *slog.Logger
}

// ChannelError is a problem confined to one channel directory or file.
type ChannelError struct {
	Channel string
	File    string
	Err     string
}

// SpotCheckFailure is a stored metadata blob that did not re-parse cleanly.
type SpotCheckFailure struct {
	ID  string
	Err string
}

// Summary reports one guild's backfill.
type Summary struct {
	GuildID           string
	DryRun            bool
	WouldMigrate      bool
	MissingColumns    []string
	RowsBefore        int64
	RowsAfter         int64
	ChannelsProcessed int
	FilesProcessed    int
	ChannelErrors     []ChannelError
	Inserted          int
	SkippedNoAuthor   int
	Invalid           int
	LossyFields       int
	RowsWithMetadata  int64
	SpotChecked       int
	SpotCheckFailures []SpotCheckFailure
}

// OK reports whether the backfill finished without any reported problem.
func (s Summary) OK() bool {
	return len(s.MissingColumns) == 0 && len(s.ChannelErrors) == 0 && len(s.SpotCheckFailures) == 0
}

// String renders the summary for the CLI and the status file.
func (s Summary) String() string {
	var b strings.Builder
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(&b, "guild %s%s\n", s.GuildID, mode)
	if len(s.MissingColumns) > 0 {
		fmt.Fprintf(&b, "  aborted: missing columns %s\n", strings.Join(s.MissingColumns, ", "))
		return b.String()
	}
	if s.WouldMigrate {
		b.WriteString("  store is in the legacy shape and would be migrated\n")
	}
	fmt.Fprintf(&b, "  rows: %d -> %d (%d with metadata)\n", s.RowsBefore, s.RowsAfter, s.RowsWithMetadata)
	fmt.Fprintf(&b, "  channels: %d, files: %d, channel errors: %d\n", s.ChannelsProcessed, s.FilesProcessed, len(s.ChannelErrors))
	fmt.Fprintf(&b, "  messages: %d inserted, %d skipped (no author), %d invalid, %d lossy fields\n",
		s.Inserted, s.SkippedNoAuthor, s.Invalid, s.LossyFields)
	for _, e := range s.ChannelErrors {
		fmt.Fprintf(&b, "    %s %s: %s\n", e.Channel, e.File, e.Err)
	}
	fmt.Fprintf(&b, "  metadata spot check: %d checked, %d failed\n", s.SpotChecked, len(s.SpotCheckFailures))
	for _, f := range s.SpotCheckFailures {
		fmt.Fprintf(&b, "    SPOT CHECK FAILED %s: %s\n", f.ID, f.Err)
	}
	return b.String()
}

// Reconciler replays snapshot files through normalization and upsert.
type Reconciler struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SpotCheckSize <= 0 {
		opts.SpotCheckSize = 5
	}
	return &Reconciler{opts: opts, logger: opts.Logger}
}

// Backfill replays every archive_<T>.json with a matching authors_<T>.json under
// the guild directory, regardless of ledger state. A store failure aborts the guild;
// unreadable files and directories are reported per channel.
func (r *Reconciler) Backfill(ctx context.Context, guildID string) (Summary, error) {
	summary := Summary{GuildID: guildID, DryRun: r.opts.DryRun}
	guildDir := filepath.Join(r.opts.OutputDir, guildID)
	if info, err := os.Stat(guildDir); err != nil || !info.IsDir() {
		return summary, fmt.Errorf("guild directory %s not found", guildDir)
	}

	store, err := r.openStore(ctx, guildID, &summary)
	if err != nil {
		return summary, err
	}
	if store != nil {
		defer store.Close()
	}
	if len(summary.MissingColumns) > 0 {
		return summary, fmt.Errorf("guild %s: %w: %s", guildID, database.ErrMissingColumns, strings.Join(summary.MissingColumns, ", "))
	}

	if store != nil && !summary.WouldMigrate {
		if summary.RowsBefore, err = store.CountRows(ctx); err != nil {
			return summary, err
		}
	}

	entries, err := os.ReadDir(guildDir)
	if err != nil {
		return summary, fmt.Errorf("failed to list %s: %w", guildDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		name, id, ok := archiver.ParseChannelDir(e.Name())
		if !ok || !normalize.IsSnowflake(id) {
			summary.ChannelErrors = append(summary.ChannelErrors, ChannelError{Channel: e.Name(), Err: "not a <name>_<channelId> directory"})
			continue
		}
		channel := models.ChannelRef{GuildID: guildID, ID: id, Name: name}
		if err := r.backfillChannel(ctx, store, channel, e.Name(), &summary); err != nil {
			return summary, err
		}
		summary.ChannelsProcessed++
	}

	if store != nil && !r.opts.DryRun {
		if summary.RowsAfter, err = store.CountRows(ctx); err != nil {
			return summary, err
		}
		if summary.RowsWithMetadata, err = store.CountRowsWithMetadata(ctx); err != nil {
			return summary, err
		}
		if err := r.spotCheck(ctx, store, &summary); err != nil {
			return summary, err
		}
	} else {
		summary.RowsAfter = summary.RowsBefore
	}

	metrics.BackfillRows.WithLabelValues("inserted").Add(float64(summary.Inserted))
	metrics.BackfillRows.WithLabelValues("skipped_no_author").Add(float64(summary.SkippedNoAuthor))
	metrics.BackfillRows.WithLabelValues("invalid").Add(float64(summary.Invalid))
	r.logger.Info("backfill finished", "guild_id", guildID, "dry_run", r.opts.DryRun,
		"inserted", summary.Inserted, "skipped_no_author", summary.SkippedNoAuthor,
		"invalid", summary.Invalid, "channel_errors", len(summary.ChannelErrors))
	return summary, nil
}

// openStore opens and migrates the store, or in a dry run inspects it without
// changing anything. It validates the required columns either way.
func (r *Reconciler) openStore(ctx context.Context, guildID string, summary *Summary) (*database.Store, error) {
	if !r.opts.DryRun {
		store, report, err := database.OpenGuildStore(ctx, r.opts.OutputDir, guildID)
		if err != nil {
			return nil, err
		}
		summary.LossyFields += countLossy(report)
		missing, err := database.ValidateColumns(ctx, store.DB)
		if len(missing) > 0 {
			summary.MissingColumns = missing
			return store, nil
		}
		if err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}

	store, err := database.OpenStore(r.opts.OutputDir, guildID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	exists, err := database.TableExists(ctx, store.DB, database.RawArchiveTable)
	if err != nil || !exists {
		store.Close()
		return nil, err
	}
	columns, err := database.TableColumns(ctx, store.DB, database.RawArchiveTable)
	if err != nil {
		store.Close()
		return nil, err
	}
	if database.IsLegacy(columns) {
		summary.WouldMigrate = true
		return store, nil
	}
	missing, err := database.ValidateColumns(ctx, store.DB)
	if len(missing) > 0 {
		summary.MissingColumns = missing
		return store, nil
	}
	return store, err
}

func (r *Reconciler) backfillChannel(ctx context.Context, store *database.Store, channel models.ChannelRef, dirName string, summary *Summary) error {
	channelDir := filepath.Join(r.opts.OutputDir, channel.GuildID, dirName)
	files, err := os.ReadDir(channelDir)
	if err != nil {
		summary.ChannelErrors = append(summary.ChannelErrors, ChannelError{Channel: dirName, Err: err.Error()})
		return nil
	}

	type snapshot struct {
		runTs int64
		name  string
	}
	var snapshots []snapshot
	for _, f := range files {
		if ts, ok := archiver.ParseArchiveFileName(f.Name()); ok && !f.IsDir() {
			snapshots = append(snapshots, snapshot{runTs: ts, name: f.Name()})
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].runTs < snapshots[j].runTs })

	// Directory names are sanitized, so the stored name wins when there is one.
	var stored database.StoredChannelNames
	if store != nil {
		if stored, err = store.ChannelNames(ctx, channel.ID); err != nil {
			return err
		}
	}

	for _, snap := range snapshots {
		authorsPath := filepath.Join(channelDir, archiver.AuthorsFileName(snap.runTs))
		authors, err := archiver.ReadAuthorIndex(authorsPath)
		if err != nil {
			summary.ChannelErrors = append(summary.ChannelErrors, ChannelError{Channel: dirName, File: snap.name, Err: "no usable author index: " + err.Error()})
			continue
		}

		msgs, err := r.decodeSnapshot(filepath.Join(channelDir, snap.name), summary)
		if err != nil {
			summary.ChannelErrors = append(summary.ChannelErrors, ChannelError{Channel: dirName, File: snap.name, Err: err.Error()})
			continue
		}

		archiveRel := dirName + "/" + snap.name
		fileChannel := channel
		fileChannel.Name = stored.Name(archiveRel, channel.Name)
		rows, skipped, err := archiver.BuildRows(fileChannel, msgs, archiver.NewAuthorLookup(authors), archiveRel)
		if err != nil {
			summary.ChannelErrors = append(summary.ChannelErrors, ChannelError{Channel: dirName, File: snap.name, Err: err.Error()})
			continue
		}
		summary.FilesProcessed++
		summary.SkippedNoAuthor += len(skipped)
		for _, id := range skipped {
			r.logger.Warn("skipping message with unresolvable author", "guild_id", channel.GuildID, "file", archiveRel, "message_id", id)
		}

		if r.opts.DryRun {
			summary.Inserted += len(rows)
			continue
		}
		n, err := store.UpsertRows(ctx, rows)
		if err != nil {
			return fmt.Errorf("guild %s file %s: %w", channel.GuildID, archiveRel, err)
		}
		summary.Inserted += n
	}
	return nil
}

// decodeSnapshot decodes every record of a snapshot file. Records of an unknown
// shape are counted as invalid and left out.
func (r *Reconciler) decodeSnapshot(path string, summary *Summary) ([]models.ArchivedMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("not a JSON array of records: %w", err)
	}

	msgs := make([]models.ArchivedMessage, 0, len(records))
	for i, raw := range records {
		rec, err := normalize.DecodeRecord(raw)
		if err != nil {
			summary.Invalid++
			r.logger.Warn("invalid archive record", "file", path, "index", i, "error", err)
			continue
		}
		if len(rec.Issues) > 0 {
			summary.LossyFields += len(rec.Issues)
			metrics.SkippedMessages.WithLabelValues(metrics.ReasonLossyField).Add(float64(len(rec.Issues)))
			for _, issue := range rec.Issues {
				r.logger.Warn("dropped unparsable field", "file", path, "message_id", rec.Message.ID, "field", issue.String())
			}
		}
		msgs = append(msgs, rec.Message)
	}
	return msgs, nil
}

// spotCheck re-parses a random sample of stored metadata blobs.
func (r *Reconciler) spotCheck(ctx context.Context, store *database.Store, summary *Summary) error {
	samples, err := store.SampleMetadata(ctx, r.opts.SpotCheckSize)
	if err != nil {
		return err
	}
	for _, s := range samples {
		summary.SpotChecked++
		if err := CheckMetadata(s.Metadata); err != nil {
			summary.SpotCheckFailures = append(summary.SpotCheckFailures, SpotCheckFailure{ID: s.ID, Err: err.Error()})
		}
	}
	return nil
}

// CheckMetadata verifies that a stored blob is a non-empty object without core
// keys whose reactions, if any, parse in the normalized shape.
func CheckMetadata(blob string) error {
	var md map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &md); err != nil {
		return fmt.Errorf("not a JSON object: %w", err)
	}
	if len(md) == 0 {
		return errors.New("empty object stored instead of NULL")
	}
	for _, key := range normalize.CoreKeys {
		if _, ok := md[key]; ok {
			return fmt.Errorf("core field %q leaked into metadata", key)
		}
	}
	if raw, ok := md[normalize.KeyReactions]; ok {
		if _, err := normalize.NormalizeReactionsJSON(raw); err != nil {
			return err
		}
	}
	return nil
}

func countLossy(report database.MigrationReport) int {
	n := 0
	for _, d := range report.Lossy {
		n += len(d.Fields)
	}
	return n
}
