package models

import "time"

// ArchiveConfig is the fully resolved configuration, unmarshalled from viper.
type ArchiveConfig struct {
	OutputDir string                   `json:"output_dir" mapstructure:"output_dir"`
	BotToken  string                   `json:"-" mapstructure:"bot_token"`
	Archive   ArchiveSettings          `json:"archive" mapstructure:"archive"`
	Audit     AuditSettings            `json:"audit" mapstructure:"audit"`
	Backfill  BackfillSettings         `json:"backfill" mapstructure:"backfill"`
	Serve     ServeSettings            `json:"serve" mapstructure:"serve"`
	Channels  map[string]GuildChannels `json:"archive_channels" mapstructure:"archive_channels"` // key is guild_id
}

// ArchiveSettings controls incremental fetching and the per-channel lease.
type ArchiveSettings struct {
	PageSize       int           `json:"page_size" mapstructure:"page_size"`
	PageDelay      time.Duration `json:"page_delay" mapstructure:"page_delay"`
	RetryBackoff   time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	FetchReactions bool          `json:"fetch_reactions" mapstructure:"fetch_reactions"`
	LeaseTTL       time.Duration `json:"lease_ttl" mapstructure:"lease_ttl"`
	Schedule       string        `json:"schedule" mapstructure:"schedule"`
}

// AuditSettings controls the integrity auditor.
type AuditSettings struct {
	Schedule             string `json:"schedule" mapstructure:"schedule"`
	MonotonicToleranceMs int64  `json:"monotonic_tolerance_ms" mapstructure:"monotonic_tolerance_ms"`
	ContentMaxLength     int    `json:"content_max_length" mapstructure:"content_max_length"`
	MirrorDSN            string `json:"mirror_dsn" mapstructure:"mirror_dsn"`
}

// BackfillSettings controls the backfill reconciler.
type BackfillSettings struct {
	SpotCheckSize int `json:"spot_check_size" mapstructure:"spot_check_size"`
}

// ServeSettings controls the read-only status API.
type ServeSettings struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// GuildChannels lists the channels to archive for one guild.
type GuildChannels struct {
	Name     string   `json:"name" mapstructure:"name"`
	Channels []string `json:"channels" mapstructure:"channels"`
}

// ChannelRef identifies a channel to archive. Name is used for the on-disk directory
// and the channel_name column.
type ChannelRef struct {
	GuildID string
	ID      string
	Name    string
}
