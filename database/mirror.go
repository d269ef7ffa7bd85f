package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"archive-bot/models"

	_ "github.com/lib/pq"
)

const (
	mirrorTableName        = "archive_audit_snapshots"
	mirrorOperationTimeout = 5 * time.Second
)

// SnapshotMirror receives every recorded audit snapshot.
type SnapshotMirror interface {
	Mirror(ctx context.Context, snap models.AuditSnapshot) error
	Close() error
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresSnapshotMirror upserts snapshots into a shared Postgres table keyed on
// guild, channel and snapshot date.
type PostgresSnapshotMirror struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// BuildSnapshotMirrorFromDSN returns a mirror for dsn, or nil when dsn is empty.
func BuildSnapshotMirrorFromDSN(dsn string) (SnapshotMirror, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mirror DSN: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return &PostgresSnapshotMirror{dsn: dsn, openDB: sql.Open}, nil
	default:
		return nil, fmt.Errorf("unsupported mirror scheme %q", parsed.Scheme)
	}
}

// Mirror upserts one snapshot.
func (m *PostgresSnapshotMirror) Mirror(ctx context.Context, snap models.AuditSnapshot) error {
	if err := m.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (guild_id, channel_id, snapshot_date, row_count, min_timestamp, max_timestamp, mirrored_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (guild_id, channel_id, snapshot_date)
		DO UPDATE SET row_count = EXCLUDED.row_count, min_timestamp = EXCLUDED.min_timestamp,
			max_timestamp = EXCLUDED.max_timestamp, mirrored_at = NOW()`, mirrorTableName)
	_, err := m.db.ExecContext(ctx, query,
		snap.GuildID, snap.ChannelID, snap.SnapshotDate, snap.RowCount, snap.MinTimestamp, snap.MaxTimestamp)
	if err != nil {
		return fmt.Errorf("failed to mirror snapshot for channel %s: %w", snap.ChannelID, err)
	}
	return nil
}

// Close closes the Postgres handle if it was opened.
func (m *PostgresSnapshotMirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *PostgresSnapshotMirror) ensureReady() error {
	m.initOnce.Do(func() {
		db, err := m.openDB("postgres", m.dsn)
		if err != nil {
			m.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), mirrorOperationTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			m.initErr = fmt.Errorf("failed to connect to mirror: %w", err)
			return
		}
		_, err = db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				guild_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				snapshot_date TEXT NOT NULL,
				row_count BIGINT NOT NULL,
				min_timestamp BIGINT,
				max_timestamp BIGINT,
				mirrored_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (guild_id, channel_id, snapshot_date)
			)`, mirrorTableName))
		if err != nil {
			db.Close()
			m.initErr = fmt.Errorf("failed to create mirror table: %w", err)
			return
		}
		m.db = db
	})
	return m.initErr
}
