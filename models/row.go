package models

import "database/sql"

// RawArchiveRow is a row of the raw_archive table.
type RawArchiveRow struct {
	ID               string         `db:"id"` // Unique per guild
	CreatedTimestamp int64          `db:"createdTimestamp"`
	Content          string         `db:"content"`
	AuthorID         string         `db:"author_id"`
	GuildID          string         `db:"guild_id"`
	ChannelID        string         `db:"channel_id"`
	ChannelName      string         `db:"channel_name"`
	ArchiveFile      string         `db:"archive_file"` // relative to the guild directory
	Metadata         sql.NullString `db:"metadata"`
}

// AuditSnapshot is a point-in-time per-channel summary recorded by each audit run.
type AuditSnapshot struct {
	ID           uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	SnapshotDate string `json:"snapshot_date" gorm:"column:snapshot_date;type:TEXT NOT NULL"`
	GuildID      string `json:"guild_id" gorm:"column:guild_id;type:TEXT NOT NULL;index:idx_snapshot_channel,priority:1"`
	ChannelID    string `json:"channel_id" gorm:"column:channel_id;type:TEXT NOT NULL;index:idx_snapshot_channel,priority:2"`
	RowCount     int64  `json:"row_count" gorm:"column:row_count;not null"`
	MinTimestamp int64  `json:"min_timestamp" gorm:"column:min_timestamp"`
	MaxTimestamp int64  `json:"max_timestamp" gorm:"column:max_timestamp"`
}

// TableName implements the GORM tabler interface.
func (AuditSnapshot) TableName() string { return "audit_snapshots" }
