package models

import "time"

// ArchiveStatus is the content of Output/status.json.
type ArchiveStatus struct {
	Guilds      map[string]*GuildStatus `json:"guilds"` // key is guild_id
	LastUpdated time.Time               `json:"last_updated"`
}

// GuildStatus records the latest outcome of each kind of run for a guild.
type GuildStatus struct {
	LastArchive  *RunStatus `json:"last_archive,omitempty"`
	LastBackfill *RunStatus `json:"last_backfill,omitempty"`
	LastAudit    *RunStatus `json:"last_audit,omitempty"`
}

// RunStatus is a short summary of one run.
type RunStatus struct {
	At      time.Time `json:"at"`
	OK      bool      `json:"ok"`
	Summary string    `json:"summary"`
}
