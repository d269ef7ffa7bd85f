package database

import (
	"context"
	"errors"
	"fmt"

	"archive-bot/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SnapshotStore reads and appends audit snapshots. The audit_snapshots table is
// created lazily the first time a store is opened.
type SnapshotStore struct {
	db *gorm.DB
}

// Snapshots opens the snapshot store on the guild's database handle.
func (s *Store) Snapshots() (*SnapshotStore, error) {
	gdb, err := gorm.Open(sqlite.New(sqlite.Config{Conn: s.DB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if err := gdb.AutoMigrate(&models.AuditSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit_snapshots: %w", err)
	}
	return &SnapshotStore{db: gdb}, nil
}

// Record appends a snapshot and fills in its ID.
func (ss *SnapshotStore) Record(ctx context.Context, snap *models.AuditSnapshot) error {
	if err := ss.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("failed to record snapshot for channel %s: %w", snap.ChannelID, err)
	}
	return nil
}

// Previous returns the channel's latest snapshot recorded before the snapshot with
// id beforeID, or nil when there is none.
func (ss *SnapshotStore) Previous(ctx context.Context, guildID, channelID string, beforeID uint) (*models.AuditSnapshot, error) {
	var snap models.AuditSnapshot
	err := ss.db.WithContext(ctx).
		Where("guild_id = ? AND channel_id = ? AND id < ?", guildID, channelID, beforeID).
		Order("id DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load previous snapshot for channel %s: %w", channelID, err)
	}
	return &snap, nil
}

// History returns snapshots newest-first. An empty channelID returns every channel.
func (ss *SnapshotStore) History(ctx context.Context, channelID string, limit int) ([]models.AuditSnapshot, error) {
	query := ss.db.WithContext(ctx).Order("id DESC")
	if channelID != "" {
		query = query.Where("channel_id = ?", channelID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var snaps []models.AuditSnapshot
	if err := query.Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

// ChannelIDs lists every channel of the guild that has at least one snapshot.
func (ss *SnapshotStore) ChannelIDs(ctx context.Context, guildID string) ([]string, error) {
	var ids []string
	err := ss.db.WithContext(ctx).Model(&models.AuditSnapshot{}).
		Where("guild_id = ?", guildID).
		Distinct().Order("channel_id").
		Pluck("channel_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot channels: %w", err)
	}
	return ids, nil
}
