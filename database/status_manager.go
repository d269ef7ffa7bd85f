package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"archive-bot/models"
)

// StatusFileName is the status file inside the output directory.
const StatusFileName = "status.json"

// RunKind selects which outcome of a guild's status is updated.
type RunKind string

const (
	RunArchive  RunKind = "archive"
	RunBackfill RunKind = "backfill"
	RunAudit    RunKind = "audit"
)

// StatusManager manages the status file.
type StatusManager struct {
	statusFile string
	mutex      sync.Mutex
	status     *models.ArchiveStatus
}

// NewStatusManager creates a status manager for <outputDir>/status.json, loading the
// existing file if there is one.
func NewStatusManager(outputDir string) *StatusManager {
	sm := &StatusManager{
		statusFile: filepath.Join(outputDir, StatusFileName),
		status: &models.ArchiveStatus{
			Guilds: make(map[string]*models.GuildStatus),
		},
	}
	if loaded, err := ReadStatus(sm.statusFile); err == nil && loaded != nil {
		sm.status = loaded
	}
	return sm
}

// ReadStatus reads a status file. A missing file yields nil without error.
func ReadStatus(path string) (*models.ArchiveStatus, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}
	var status models.ArchiveStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status file: %w", err)
	}
	if status.Guilds == nil {
		status.Guilds = make(map[string]*models.GuildStatus)
	}
	return &status, nil
}

// Record stores the outcome of a run for a guild.
func (sm *StatusManager) Record(guildID string, kind RunKind, ok bool, summary string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.status.Guilds[guildID]; !exists {
		sm.status.Guilds[guildID] = &models.GuildStatus{}
	}
	run := &models.RunStatus{At: time.Now().UTC(), OK: ok, Summary: summary}

	switch kind {
	case RunArchive:
		sm.status.Guilds[guildID].LastArchive = run
	case RunBackfill:
		sm.status.Guilds[guildID].LastBackfill = run
	case RunAudit:
		sm.status.Guilds[guildID].LastAudit = run
	}
}

// Save commits the current status to the JSON file.
func (sm *StatusManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.status.LastUpdated = time.Now().UTC()

	// Ensure the directory exists.
	if err := os.MkdirAll(filepath.Dir(sm.statusFile), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.status, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	tmp := sm.statusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := os.Rename(tmp, sm.statusFile); err != nil {
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
