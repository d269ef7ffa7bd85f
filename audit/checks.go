package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"archive-bot/archiver"
	"archive-bot/database"
	"archive-bot/normalize"
)

// platformEpochMs is the earliest timestamp a snowflake can encode.
const platformEpochMs int64 = 1420070400000

// maxFutureSkew is how far past the audit clock a timestamp may lie.
const maxFutureSkew = 24 * time.Hour

// target is the guild store under audit.
type target struct {
	db       *sql.DB
	guildID  string
	guildDir string
	now      time.Time
	settings Settings
}

type checkFunc func(ctx context.Context, t target) ([]Check, error)

// channelStat is the per-channel aggregate used by the row-count summary and snapshots.
type channelStat struct {
	ChannelID string
	Rows      int64
	MinTs     int64
	MaxTs     int64
}

func standardChecks() []checkFunc {
	return []checkFunc{
		checkCriticalNulls,
		checkSnowflakes,
		checkContent,
		checkTimestamps,
		checkMonotonicity,
		checkGuildConsistency,
		checkChannelNames,
		checkMetadata,
		checkFileReferences,
	}
}

func checkCriticalNulls(ctx context.Context, t target) ([]Check, error) {
	c := Check{Name: "critical_nulls", Severity: SeverityHard}
	for _, col := range database.CriticalColumns {
		var n int
		query := fmt.Sprintf("SELECT COUNT(*) FROM raw_archive WHERE %s IS NULL", col)
		if err := t.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count NULL %s: %w", col, err)
		}
		if n > 0 {
			c.Count += n
			c.Details = append(c.Details, fmt.Sprintf("%s: %d NULL", col, n))
		}
	}
	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d NULL values in %d critical columns", c.Count, len(database.CriticalColumns))
	return []Check{c}, nil
}

func checkSnowflakes(ctx context.Context, t target) ([]Check, error) {
	c := Check{Name: "snowflake_shape", Severity: SeverityHard}
	rows, err := t.db.QueryContext(ctx, "SELECT id, author_id, channel_id FROM raw_archive")
	if err != nil {
		return nil, fmt.Errorf("failed to read ids: %w", err)
	}
	defer rows.Close()

	checked := 0
	for rows.Next() {
		var id, author, channel sql.NullString
		if err := rows.Scan(&id, &author, &channel); err != nil {
			return nil, fmt.Errorf("failed to scan ids: %w", err)
		}
		checked++
		for _, f := range []struct {
			col string
			v   sql.NullString
		}{{"id", id}, {"author_id", author}, {"channel_id", channel}} {
			if f.v.Valid && !normalize.IsSnowflake(f.v.String) {
				c.add(fmt.Sprintf("row %s: %s=%q", id.String, f.col, f.v.String))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d malformed ids across %d rows", c.Count, checked)
	return []Check{c}, nil
}

func checkContent(ctx context.Context, t target) ([]Check, error) {
	c := Check{Name: "content_integrity", Severity: SeverityInfo}
	var nulls, empty, oversized int
	err := t.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN content IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN content = '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN length(content) > ? THEN 1 ELSE 0 END), 0)
		FROM raw_archive`, t.settings.ContentMaxLength).Scan(&nulls, &empty, &oversized)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect content: %w", err)
	}
	c.Count = nulls + empty + oversized
	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d NULL, %d empty, %d longer than %d characters", nulls, empty, oversized, t.settings.ContentMaxLength)
	return []Check{c}, nil
}

func checkTimestamps(ctx context.Context, t target) ([]Check, error) {
	c := Check{Name: "timestamp_plausibility", Severity: SeverityHard}
	upper := t.now.Add(maxFutureSkew).UnixMilli()
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, typeof(createdTimestamp), CAST(createdTimestamp AS REAL)
		FROM raw_archive WHERE createdTimestamp IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    sql.NullString
			kind  string
			value float64
		)
		if err := rows.Scan(&id, &kind, &value); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		switch {
		case kind != "integer":
			c.add(fmt.Sprintf("row %s: stored as %s (%v)", id.String, kind, value))
		case value < float64(platformEpochMs) || value > float64(upper):
			c.add(fmt.Sprintf("row %s: %d outside [%d, %d]", id.String, int64(value), platformEpochMs, upper))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d implausible or non-integer timestamps", c.Count)
	return []Check{c}, nil
}

func checkMonotonicity(ctx context.Context, t target) ([]Check, error) {
	c := Check{Name: "timestamp_monotonicity", Severity: SeverityHard}
	type point struct {
		id string
		ts int64
	}
	byChannel := map[string][]point{}

	rows, err := t.db.QueryContext(ctx, `
		SELECT channel_id, id, createdTimestamp FROM raw_archive
		WHERE channel_id IS NOT NULL AND id IS NOT NULL AND typeof(createdTimestamp) = 'integer'`)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel timelines: %w", err)
	}
	for rows.Next() {
		var ch string
		var p point
		if err := rows.Scan(&ch, &p.id, &p.ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan timeline: %w", err)
		}
		byChannel[ch] = append(byChannel[ch], p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, ch := range sortedKeys(byChannel) {
		points := byChannel[ch]
		sort.Slice(points, func(i, j int) bool { return normalize.CompareSnowflakes(points[i].id, points[j].id) < 0 })
		for i := 1; i < len(points); i++ {
			prev, cur := points[i-1], points[i]
			if cur.ts < prev.ts-t.settings.MonotonicToleranceMs {
				c.add(fmt.Sprintf("channel %s: %s (%d) is %dms older than %s (%d)",
					ch, cur.id, cur.ts, prev.ts-cur.ts, prev.id, prev.ts))
			}
		}
	}
	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d inversions beyond %dms across %d channels", c.Count, t.settings.MonotonicToleranceMs, len(byChannel))
	return []Check{c}, nil
}

func checkGuildConsistency(ctx context.Context, t target) ([]Check, error) {
	c := Check{Name: "guild_consistency", Severity: SeverityHard}
	rows, err := t.db.QueryContext(ctx,
		"SELECT id, guild_id FROM raw_archive WHERE guild_id IS NOT NULL AND guild_id != ?", t.guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to check guild ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id sql.NullString
		var guild string
		if err := rows.Scan(&id, &guild); err != nil {
			return nil, fmt.Errorf("failed to scan guild id: %w", err)
		}
		c.add(fmt.Sprintf("row %s: guild_id %s", id.String, guild))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.Passed = c.Count == 0
	c.Summary = fmt.Sprintf("%d rows belong to another guild", c.Count)
	return []Check{c}, nil
}

func checkChannelNames(ctx context.Context, t target) ([]Check, error) {
	namesByID := map[string][]string{}
	idsByName := map[string][]string{}

	rows, err := t.db.QueryContext(ctx, `
		SELECT DISTINCT channel_id, channel_name FROM raw_archive
		WHERE channel_id IS NOT NULL AND channel_name IS NOT NULL
		ORDER BY channel_id, channel_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan channel name: %w", err)
		}
		namesByID[id] = append(namesByID[id], name)
		idsByName[name] = append(idsByName[name], id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	renames := Check{Name: "channel_renames", Severity: SeverityInfo}
	for _, id := range sortedKeys(namesByID) {
		if names := namesByID[id]; len(names) > 1 {
			renames.add(fmt.Sprintf("channel %s: %s", id, strings.Join(names, ", ")))
		}
	}
	renames.Passed = renames.Count == 0
	renames.Summary = fmt.Sprintf("%d channels archived under more than one name", renames.Count)

	collisions := Check{Name: "channel_name_collision", Severity: SeverityHard}
	for _, name := range sortedKeys(idsByName) {
		if ids := idsByName[name]; len(ids) > 1 {
			collisions.add(fmt.Sprintf("name %q: channels %s", name, strings.Join(ids, ", ")))
		}
	}
	collisions.Passed = collisions.Count == 0
	collisions.Summary = fmt.Sprintf("%d names shared by different channel ids", collisions.Count)

	return []Check{renames, collisions}, nil
}

// checkMetadata makes one pass over the non-NULL metadata and derives the JSON
// validity, core-key leakage, empty-reactions and key-distribution checks from it.
func checkMetadata(ctx context.Context, t target) ([]Check, error) {
	invalid := Check{Name: "metadata_json", Severity: SeverityHard}
	leaks := Check{Name: "metadata_core_leak", Severity: SeverityHard}
	emptyReactions := Check{Name: "empty_reactions", Severity: SeverityInfo}
	histogram := Check{Name: "metadata_keys", Severity: SeverityInfo, Passed: true}

	keyCounts := map[string]int{}
	total, withReactions := 0, 0

	rows, err := t.db.QueryContext(ctx, "SELECT id, metadata FROM raw_archive WHERE metadata IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id sql.NullString
		var blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		total++

		var md map[string]json.RawMessage
		if err := json.Unmarshal([]byte(blob), &md); err != nil {
			invalid.add(fmt.Sprintf("row %s: %v", id.String, err))
			continue
		}
		for key, value := range md {
			keyCounts[key]++
			if key == normalize.KeyReactions {
				withReactions++
				if strings.TrimSpace(string(value)) == "[]" {
					emptyReactions.add("row " + id.String)
				}
			}
		}
		for _, key := range normalize.CoreKeys {
			if _, ok := md[key]; ok {
				leaks.add(fmt.Sprintf("row %s: %q", id.String, key))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	invalid.Passed = invalid.Count == 0
	invalid.Summary = fmt.Sprintf("%d of %d metadata blobs are not valid JSON objects", invalid.Count, total)
	leaks.Passed = leaks.Count == 0
	leaks.Summary = fmt.Sprintf("%d core fields found inside metadata", leaks.Count)
	emptyReactions.Passed = emptyReactions.Count == 0
	emptyReactions.Summary = fmt.Sprintf("%d of %d rows with reactions carry an empty array", emptyReactions.Count, withReactions)

	keys := sortedKeys(keyCounts)
	sort.SliceStable(keys, func(i, j int) bool { return keyCounts[keys[i]] > keyCounts[keys[j]] })
	for _, key := range keys {
		histogram.Details = append(histogram.Details, fmt.Sprintf("%-16s %d", key, keyCounts[key]))
	}
	histogram.Count = len(keys)
	histogram.Summary = fmt.Sprintf("%d distinct keys across %d rows", len(keys), total)
	if len(histogram.Details) > maxDetailRows {
		histogram.Details = histogram.Details[:maxDetailRows]
	}

	return []Check{invalid, leaks, emptyReactions, histogram}, nil
}

// checkFileReferences compares archive_file values with the snapshot files on disk.
func checkFileReferences(ctx context.Context, t target) ([]Check, error) {
	referenced := map[string]bool{}
	rows, err := t.db.QueryContext(ctx, "SELECT DISTINCT archive_file FROM raw_archive WHERE archive_file IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to read archive_file references: %w", err)
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan archive_file: %w", err)
		}
		referenced[f] = true
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	missing := Check{Name: "file_references", Severity: SeverityHard}
	for _, f := range sortedKeys(referenced) {
		if _, err := os.Stat(filepath.Join(t.guildDir, filepath.FromSlash(f))); err != nil {
			missing.add(f)
		}
	}
	missing.Passed = missing.Count == 0
	missing.Summary = fmt.Sprintf("%d of %d referenced snapshot files are missing", missing.Count, len(referenced))

	orphans := Check{Name: "orphan_files", Severity: SeverityInfo}
	onDisk, err := snapshotFiles(t.guildDir)
	if err != nil {
		return nil, err
	}
	for _, f := range onDisk {
		if !referenced[f] {
			orphans.add(f)
		}
	}
	orphans.Passed = orphans.Count == 0
	orphans.Summary = fmt.Sprintf("%d of %d snapshot files on disk have no rows", orphans.Count, len(onDisk))

	return []Check{missing, orphans}, nil
}

// snapshotFiles lists archive_<T>.json files as paths relative to guildDir.
func snapshotFiles(guildDir string) ([]string, error) {
	entries, err := os.ReadDir(guildDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", guildDir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, _, ok := archiver.ParseChannelDir(e.Name()); !ok {
			continue
		}
		inner, err := os.ReadDir(filepath.Join(guildDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", e.Name(), err)
		}
		for _, f := range inner {
			if _, ok := archiver.ParseArchiveFileName(f.Name()); ok && !f.IsDir() {
				files = append(files, e.Name()+"/"+f.Name())
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// channelStats returns row count and timestamp range per channel.
func channelStats(ctx context.Context, db *sql.DB) ([]channelStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT channel_id, COUNT(*),
			CAST(COALESCE(MIN(createdTimestamp), 0) AS INTEGER), CAST(COALESCE(MAX(createdTimestamp), 0) AS INTEGER)
		FROM raw_archive WHERE channel_id IS NOT NULL
		GROUP BY channel_id ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize channels: %w", err)
	}
	defer rows.Close()

	var stats []channelStat
	for rows.Next() {
		var s channelStat
		if err := rows.Scan(&s.ChannelID, &s.Rows, &s.MinTs, &s.MaxTs); err != nil {
			return nil, fmt.Errorf("failed to scan channel summary: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func channelCountsCheck(stats []channelStat) Check {
	c := Check{Name: "channel_row_counts", Severity: SeverityInfo, Passed: true}
	var total int64
	for _, s := range stats {
		total += s.Rows
		if len(c.Details) < maxDetailRows {
			c.Details = append(c.Details, fmt.Sprintf("channel %s: %d rows", s.ChannelID, s.Rows))
		}
	}
	c.Count = len(stats)
	c.Summary = fmt.Sprintf("%d rows across %d channels", total, len(stats))
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
