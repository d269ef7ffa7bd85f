// Package ledger implements the append-only run ledger stored in Output/log.csv.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"archive-bot/models"
	"archive-bot/utils"
)

// FileName is the ledger file name inside the output directory.
const FileName = "log.csv"

var header = []string{"Task", "GuildId", "ChannelID", "Timestamp"}

// Ledger appends and scans run entries. Entries are never rewritten.
type Ledger struct {
	path  string
	mutex sync.Mutex
	now   func() time.Time
}

// New returns the ledger at <outputDir>/log.csv. The file is created on first append.
func New(outputDir string) *Ledger {
	return &Ledger{
		path: filepath.Join(outputDir, FileName),
		now:  time.Now,
	}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one entry, creating the file with its header if needed.
func (l *Ledger) Append(entry models.LedgerEntry) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ledger: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write ledger header: %w", err)
		}
	}
	record := []string{
		string(entry.Task),
		entry.GuildID,
		entry.ChannelID,
		strconv.FormatInt(entry.TimestampMs, 10),
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger: %w", err)
	}
	return nil
}

// Entries reads every well-formed entry. Malformed lines are skipped with a warning.
func (l *Ledger) Entries() ([]models.LedgerEntry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var entries []models.LedgerEntry
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			utils.Warn("ledger", "Entries", fmt.Sprintf("skipping unreadable line %d: %v", line, err))
			continue
		}
		if line == 1 && strings.EqualFold(record[0], header[0]) {
			continue
		}
		if len(record) != len(header) {
			utils.Warn("ledger", "Entries", fmt.Sprintf("skipping malformed line %d with %d fields", line, len(record)))
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(record[3]), 10, 64)
		if err != nil {
			utils.Warn("ledger", "Entries", fmt.Sprintf("skipping line %d with bad timestamp %q", line, record[3]))
			continue
		}
		entries = append(entries, models.LedgerEntry{
			Task:        models.Task(strings.TrimSpace(record[0])),
			GuildID:     strings.TrimSpace(record[1]),
			ChannelID:   strings.TrimSpace(record[2]),
			TimestampMs: ts,
		})
	}
	return entries, nil
}

// LastArchiveTime returns the maximum timestamp over the channel's archive entries, or 0.
// Entries are not guaranteed to be ordered, so the last physical line is not used.
// A watermark in the future is treated as corrupt and reset to 0.
func (l *Ledger) LastArchiveTime(guildID, channelID string) (int64, error) {
	entries, err := l.Entries()
	if err != nil {
		return 0, err
	}

	var last int64
	for _, e := range entries {
		if e.Task != models.TaskArchive || e.GuildID != guildID || e.ChannelID != channelID {
			continue
		}
		if e.TimestampMs > last {
			last = e.TimestampMs
		}
	}

	if now := l.now().UnixMilli(); last > now {
		utils.Warn("ledger", "LastArchiveTime",
			fmt.Sprintf("guild %s channel %s: watermark %d is in the future (now %d), resetting to 0", guildID, channelID, last, now))
		return 0, nil
	}
	return last, nil
}
