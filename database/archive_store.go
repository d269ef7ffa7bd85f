package database

import (
	"context"
	"database/sql"
	"fmt"

	"archive-bot/models"
)

const upsertRowQuery = `
    INSERT OR REPLACE INTO raw_archive (
        id, createdTimestamp, content, author_id, guild_id, channel_id, channel_name, archive_file, metadata
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`

// UpsertRows writes rows in a single transaction. Either every row is written or,
// on error, none is.
func (s *Store) UpsertRows(ctx context.Context, rows []models.RawArchiveRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertRowQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for upserting rows: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			r.CreatedTimestamp,
			r.Content,
			r.AuthorID,
			r.GuildID,
			r.ChannelID,
			r.ChannelName,
			r.ArchiveFile,
			r.Metadata,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert message %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return len(rows), nil
}

// CountRows returns the number of rows in raw_archive.
func (s *Store) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_archive").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// CountRowsWithMetadata returns the number of rows whose metadata is not NULL.
func (s *Store) CountRowsWithMetadata(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_archive WHERE metadata IS NOT NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows with metadata: %w", err)
	}
	return n, nil
}

// GetRow returns one row by id, or sql.ErrNoRows.
func (s *Store) GetRow(ctx context.Context, id string) (models.RawArchiveRow, error) {
	var (
		r       models.RawArchiveRow
		content sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
        SELECT id, createdTimestamp, content, author_id, guild_id, channel_id, channel_name, archive_file, metadata
        FROM raw_archive WHERE id = ? AND guild_id = ?`, id, s.GuildID).Scan(
		&r.ID, &r.CreatedTimestamp, &content, &r.AuthorID, &r.GuildID,
		&r.ChannelID, &r.ChannelName, &r.ArchiveFile, &r.Metadata,
	)
	if err != nil {
		return r, err
	}
	r.Content = content.String
	return r, nil
}

// MetadataSample is one stored metadata blob picked for a spot check.
type MetadataSample struct {
	ID       string
	Metadata string
}

// SampleMetadata returns up to n random non-NULL metadata blobs.
func (s *Store) SampleMetadata(ctx context.Context, n int) ([]MetadataSample, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, metadata FROM raw_archive WHERE metadata IS NOT NULL ORDER BY RANDOM() LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to sample metadata: %w", err)
	}
	defer rows.Close()

	var samples []MetadataSample
	for rows.Next() {
		var sample MetadataSample
		if err := rows.Scan(&sample.ID, &sample.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan metadata sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// StoredChannelNames holds the channel names already stored for one channel.
type StoredChannelNames struct {
	// ByFile maps an archive_file to the channel name stored with its rows.
	ByFile map[string]string
	// Latest is the name stored with the most recently created row, if any.
	Latest string
}

// Name returns the name stored for archiveFile, then the latest stored name, then fallback.
func (n StoredChannelNames) Name(archiveFile, fallback string) string {
	if name, ok := n.ByFile[archiveFile]; ok {
		return name
	}
	if n.Latest != "" {
		return n.Latest
	}
	return fallback
}

// ChannelNames reads the channel names stored for channelID, keyed by archive file.
func (s *Store) ChannelNames(ctx context.Context, channelID string) (StoredChannelNames, error) {
	names := StoredChannelNames{ByFile: map[string]string{}}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT archive_file, channel_name, CAST(MAX(createdTimestamp) AS INTEGER)
        FROM raw_archive
        WHERE channel_id = ? AND archive_file IS NOT NULL AND channel_name IS NOT NULL AND channel_name != ''
        GROUP BY archive_file`, channelID)
	if err != nil {
		return names, fmt.Errorf("failed to read stored channel names: %w", err)
	}
	defer rows.Close()

	var latestTs int64
	for rows.Next() {
		var (
			file, name string
			ts         sql.NullInt64
		)
		if err := rows.Scan(&file, &name, &ts); err != nil {
			return names, fmt.Errorf("failed to scan stored channel name: %w", err)
		}
		names.ByFile[file] = name
		if names.Latest == "" || ts.Int64 > latestTs {
			names.Latest, latestTs = name, ts.Int64
		}
	}
	return names, rows.Err()
}
