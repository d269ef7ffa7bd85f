package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archive-bot/archiver"
	"archive-bot/database"
	"archive-bot/metrics"
	"archive-bot/models"
)

// Settings tunes the checks.
type Settings struct {
	MonotonicToleranceMs int64
	ContentMaxLength     int
}

// DefaultSettings returns the default check settings.
func DefaultSettings() Settings {
	return Settings{
		MonotonicToleranceMs: 5000,
		ContentMaxLength:     4000,
	}
}

// Options configures an Auditor.
type Options struct {
	OutputDir string
	Settings  Settings
	// Mirror, when set, receives every recorded snapshot. Its errors are logged only.
	Mirror database.SnapshotMirror
	Logger *slog.Logger
}

// Auditor runs the check battery against guild stores.
type Auditor struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Auditor.
func New(opts Options) *Auditor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	defaults := DefaultSettings()
	if opts.Settings.MonotonicToleranceMs <= 0 {
		opts.Settings.MonotonicToleranceMs = defaults.MonotonicToleranceMs
	}
	if opts.Settings.ContentMaxLength <= 0 {
		opts.Settings.ContentMaxLength = defaults.ContentMaxLength
	}
	return &Auditor{opts: opts, logger: opts.Logger, now: time.Now}
}

// Audit audits one guild, or every guild under the output directory when guildID is
// empty. A guild that cannot be audited is reported as a failed hard check and does
// not stop the others.
func (a *Auditor) Audit(ctx context.Context, guildID string) (Report, error) {
	guilds := []string{guildID}
	if guildID == "" {
		var err error
		if guilds, err = archiver.DiscoverGuilds(a.opts.OutputDir); err != nil {
			return Report{}, err
		}
	}

	var report Report
	for _, g := range guilds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := a.auditGuild(ctx, g)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			a.logger.Error("audit aborted", "guild_id", g, "error", err)
			result.Checks = append(result.Checks, Check{
				Name:     "store",
				Severity: SeverityHard,
				Summary:  err.Error(),
			})
		}
		for _, c := range result.Checks {
			outcome := "pass"
			if !c.Passed {
				outcome = "fail"
			}
			metrics.AuditChecks.WithLabelValues(c.Severity.String(), outcome).Inc()
		}
		report.Guilds = append(report.Guilds, result)
	}
	return report, nil
}

func (a *Auditor) auditGuild(ctx context.Context, guildID string) (GuildResult, error) {
	result := GuildResult{GuildID: guildID}

	store, err := database.OpenStore(a.opts.OutputDir, guildID)
	if errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("guild %s has no store at %s", guildID, database.StorePath(a.opts.OutputDir, guildID))
	}
	if err != nil {
		return result, err
	}
	defer store.Close()

	exists, err := database.TableExists(ctx, store.DB, database.RawArchiveTable)
	if err != nil {
		return result, err
	}
	if !exists {
		return result, fmt.Errorf("guild %s store has no %s table", guildID, database.RawArchiveTable)
	}
	if missing, err := database.ValidateColumns(ctx, store.DB); len(missing) > 0 || err != nil {
		result.Checks = append(result.Checks, Check{
			Name:     "schema",
			Severity: SeverityHard,
			Summary:  fmt.Sprintf("missing columns: %s", strings.Join(missing, ", ")),
			Count:    len(missing),
		})
		if len(missing) > 0 {
			return result, nil
		}
		return result, err
	}

	t := target{
		db:       store.DB,
		guildID:  guildID,
		guildDir: filepath.Dir(store.Path),
		now:      a.now(),
		settings: a.opts.Settings,
	}
	for _, check := range standardChecks() {
		checks, err := check(ctx, t)
		if err != nil {
			return result, err
		}
		result.Checks = append(result.Checks, checks...)
	}

	stats, err := channelStats(ctx, store.DB)
	if err != nil {
		return result, err
	}
	result.Checks = append(result.Checks, channelCountsCheck(stats))

	snaps, regression, err := a.recordSnapshots(ctx, store, guildID, stats, t.now)
	if err != nil {
		return result, err
	}
	result.Snapshots = snaps
	result.Checks = append(result.Checks, regression)

	for _, c := range result.Checks {
		if c.Failed() {
			a.logger.Warn("audit check failed", "guild_id", guildID, "check", c.Name, "summary", c.Summary)
		}
	}
	return result, nil
}

// recordSnapshots appends one snapshot per channel and compares each with the
// channel's preceding snapshot. A channel seen before but now without rows gets an
// empty snapshot so the loss shows up in the diff.
func (a *Auditor) recordSnapshots(ctx context.Context, store *database.Store, guildID string, stats []channelStat, now time.Time) ([]models.AuditSnapshot, Check, error) {
	c := Check{Name: "snapshot_regression", Severity: SeverityHard}

	ss, err := store.Snapshots()
	if err != nil {
		return nil, c, err
	}
	known, err := ss.ChannelIDs(ctx, guildID)
	if err != nil {
		return nil, c, err
	}
	current := make(map[string]bool, len(stats))
	for _, s := range stats {
		current[s.ChannelID] = true
	}
	for _, id := range known {
		if !current[id] {
			stats = append(stats, channelStat{ChannelID: id})
		}
	}

	date := now.UTC().Format(time.RFC3339Nano)
	snaps := make([]models.AuditSnapshot, 0, len(stats))
	for _, s := range stats {
		snap := models.AuditSnapshot{
			SnapshotDate: date,
			GuildID:      guildID,
			ChannelID:    s.ChannelID,
			RowCount:     s.Rows,
			MinTimestamp: s.MinTs,
			MaxTimestamp: s.MaxTs,
		}
		if err := ss.Record(ctx, &snap); err != nil {
			return nil, c, err
		}
		snaps = append(snaps, snap)

		prev, err := ss.Previous(ctx, guildID, s.ChannelID, snap.ID)
		if err != nil {
			return nil, c, err
		}
		if prev != nil {
			for _, problem := range Regressions(*prev, snap) {
				c.add(fmt.Sprintf("channel %s: %s", s.ChannelID, problem))
			}
		}

		if a.opts.Mirror != nil {
			if err := a.opts.Mirror.Mirror(ctx, snap); err != nil {
				a.logger.Warn("failed to mirror audit snapshot", "guild_id", guildID, "channel_id", s.ChannelID, "error", err)
			}
		}
	}

	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d regressions against the previous snapshot of %d channels", c.Count, len(snaps))
	return snaps, c, nil
}

// Regressions lists the ways cur lost data relative to prev. The minimum timestamp
// of a channel that had rows must never move.
func Regressions(prev, cur models.AuditSnapshot) []string {
	var problems []string
	if cur.RowCount < prev.RowCount {
		problems = append(problems, fmt.Sprintf("row count fell from %d to %d", prev.RowCount, cur.RowCount))
	}
	if prev.RowCount > 0 && cur.MinTimestamp != prev.MinTimestamp {
		problems = append(problems, fmt.Sprintf("min timestamp moved from %d to %d", prev.MinTimestamp, cur.MinTimestamp))
	}
	if cur.MaxTimestamp < prev.MaxTimestamp {
		problems = append(problems, fmt.Sprintf("max timestamp fell from %d to %d", prev.MaxTimestamp, cur.MaxTimestamp))
	}
	return problems
}
