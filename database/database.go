package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"archive-bot/utils"

	_ "github.com/mattn/go-sqlite3" // Import the SQLite3 driver
)

// StoreFileName is the per-guild database file inside Output/<guildId>/.
const StoreFileName = "archive.db"

// Store is one guild's relational store. It is opened and closed around a single
// unit of work (one archive run, one guild's backfill, one guild's audit).
type Store struct {
	DB       *sql.DB
	GuildID  string
	Path     string
	GuildDir string

	now func() time.Time
}

// InitDB opens the SQLite database at dbPath, creating its directory if needed.
func InitDB(dbPath string) (*sql.DB, error) {
	// Ensure the directory for the database file exists.
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps transactions and PRAGMA probes on the same handle.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// StorePath returns Output/<guildId>/archive.db.
func StorePath(outputDir, guildID string) string {
	return filepath.Join(outputDir, guildID, StoreFileName)
}

// OpenGuildStore opens the guild's store and brings raw_archive to the current shape,
// migrating a legacy table if one is found.
func OpenGuildStore(ctx context.Context, outputDir, guildID string) (*Store, MigrationReport, error) {
	path := StorePath(outputDir, guildID)
	db, err := InitDB(path)
	if err != nil {
		return nil, MigrationReport{}, fmt.Errorf("failed to open store for guild %s: %w", guildID, err)
	}

	store := &Store{
		DB:       db,
		GuildID:  guildID,
		Path:     path,
		GuildDir: filepath.Dir(path),
		now:      time.Now,
	}

	report, err := store.ensureSchema(ctx)
	if err != nil {
		db.Close()
		return nil, report, err
	}
	return store, report, nil
}

// OpenStore opens an existing guild store without creating or migrating tables.
// It returns os.ErrNotExist when the guild has no store yet.
func OpenStore(outputDir, guildID string) (*Store, error) {
	path := StorePath(outputDir, guildID)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := InitDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for guild %s: %w", guildID, err)
	}
	return &Store{DB: db, GuildID: guildID, Path: path, GuildDir: filepath.Dir(path), now: time.Now}, nil
}

// InitializeStoreIfNeeded creates or migrates a guild's store and closes it again.
func InitializeStoreIfNeeded(ctx context.Context, outputDir, guildID string) (MigrationReport, error) {
	store, report, err := OpenGuildStore(ctx, outputDir, guildID)
	if err != nil {
		return report, err
	}
	defer store.Close()

	if report.Migrated {
		utils.Info("database", "InitializeStoreIfNeeded",
			fmt.Sprintf("guild %s: migrated %d rows, %d lossy", guildID, report.Rows, len(report.Lossy)))
	}
	return report, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) ensureSchema(ctx context.Context) (MigrationReport, error) {
	exists, err := TableExists(ctx, s.DB, RawArchiveTable)
	if err != nil {
		return MigrationReport{}, err
	}
	if !exists {
		if err := createRawArchive(ctx, s.DB, RawArchiveTable); err != nil {
			return MigrationReport{}, err
		}
		return MigrationReport{}, createIndexes(ctx, s.DB)
	}

	report, err := MigrateIfLegacy(ctx, s.DB)
	if err != nil {
		return report, err
	}
	// An unknown shape is left as is so callers can report the missing columns.
	missing, err := ValidateColumns(ctx, s.DB)
	if len(missing) > 0 {
		return report, nil
	}
	if err != nil {
		return report, err
	}
	return report, createIndexes(ctx, s.DB)
}
