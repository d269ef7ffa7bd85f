package archiver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"archive-bot/normalize"
)

const (
	archivePrefix = "archive_"
	authorsPrefix = "authors_"
	jsonSuffix    = ".json"
)

var nameReplacer = strings.NewReplacer("/", "-", "\\", "-", "\x00", "")

// ChannelDirName returns <channelName>_<channelId>. Path separators in the name
// are replaced so the directory stays inside the guild directory.
func ChannelDirName(name, id string) string {
	name = strings.TrimSpace(nameReplacer.Replace(name))
	if name == "" || name == "." || name == ".." {
		name = "channel"
	}
	return name + "_" + id
}

// ParseChannelDir splits a channel directory name on its last underscore.
func ParseChannelDir(dir string) (name, id string, ok bool) {
	i := strings.LastIndex(dir, "_")
	if i <= 0 || i == len(dir)-1 {
		return "", "", false
	}
	return dir[:i], dir[i+1:], true
}

// ArchiveFileName returns archive_<runTimestampMs>.json.
func ArchiveFileName(runTs int64) string {
	return archivePrefix + strconv.FormatInt(runTs, 10) + jsonSuffix
}

// AuthorsFileName returns authors_<runTimestampMs>.json.
func AuthorsFileName(runTs int64) string {
	return authorsPrefix + strconv.FormatInt(runTs, 10) + jsonSuffix
}

// ParseArchiveFileName extracts the run timestamp from archive_<T>.json.
func ParseArchiveFileName(name string) (int64, bool) {
	if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, jsonSuffix) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), jsonSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// writeJSONAtomic writes v next to path and renames it into place, so a snapshot
// file is either complete or absent.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

// DiscoverGuilds lists the guild directories under outputDir.
func DiscoverGuilds(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", outputDir, err)
	}
	var guilds []string
	for _, e := range entries {
		if e.IsDir() && normalize.IsSnowflake(e.Name()) {
			guilds = append(guilds, e.Name())
		}
	}
	sort.Strings(guilds)
	return guilds, nil
}
