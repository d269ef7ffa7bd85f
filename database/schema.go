package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// RawArchiveTable is the relational form of archived messages.
const RawArchiveTable = "raw_archive"

// RequiredColumns are the columns of the current raw_archive shape.
var RequiredColumns = []string{
	"id", "createdTimestamp", "content", "author_id", "guild_id",
	"channel_id", "channel_name", "archive_file", "metadata",
}

// CriticalColumns must never be NULL.
var CriticalColumns = []string{
	"id", "createdTimestamp", "author_id", "guild_id",
	"channel_id", "channel_name", "archive_file",
}

// LegacyColumns only exist in the v1 table, which kept one JSON column per attribute
// plus a catch-all "extra" object.
var LegacyColumns = []string{"mentions", "reference", "reactions", "embeds", "extra"}

// ErrMissingColumns is returned when a store lacks required columns.
var ErrMissingColumns = errors.New("store is missing required columns")

func createRawArchive(ctx context.Context, q execer, table string) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        id TEXT PRIMARY KEY,
        createdTimestamp INTEGER,
        content TEXT,
        author_id TEXT,
        guild_id TEXT,
        channel_id TEXT,
        channel_name TEXT,
        archive_file TEXT,
        metadata TEXT,
        UNIQUE(id, guild_id)
    );`, table)
	if _, err := q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func createIndexes(ctx context.Context, q execer) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_raw_archive_channel_ts ON raw_archive(channel_id, createdTimestamp);",
		"CREATE INDEX IF NOT EXISTS idx_raw_archive_author ON raw_archive(author_id);",
		"CREATE INDEX IF NOT EXISTS idx_raw_archive_file ON raw_archive(archive_file);",
	}
	for _, query := range indexes {
		if _, err := q.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TableExists reports whether table exists in the store.
func TableExists(ctx context.Context, q querier, table string) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	defer rows.Close()
	exists := rows.Next()
	return exists, rows.Err()
}

// TableColumns returns the column names of table in declaration order.
func TableColumns(ctx context.Context, q querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// ValidateColumns reports every required column missing from raw_archive.
// The returned error wraps ErrMissingColumns when any are missing.
func ValidateColumns(ctx context.Context, q querier) ([]string, error) {
	columns, err := TableColumns(ctx, q, RawArchiveTable)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}

	var missing []string
	for _, c := range RequiredColumns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return missing, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil, nil
}
