package archiver

import (
	"encoding/json"
	"fmt"
	"os"

	"archive-bot/models"
)

// BuildAuthorIndex indexes the authors of this batch only. Messages without an
// author are left out, so they cannot be resolved later.
func BuildAuthorIndex(msgs []*models.RawMessage) models.AuthorIndex {
	index := make(models.AuthorIndex)
	for _, m := range msgs {
		if m.Author == nil || m.Author.ID == "" {
			continue
		}
		entry, ok := index[m.Author.ID]
		if !ok {
			entry = &models.AuthorEntry{
				ID:         m.Author.ID,
				Username:   m.Author.Username,
				GlobalName: m.Author.GlobalName,
				MsgIDs:     []string{},
			}
			index[m.Author.ID] = entry
		}
		entry.MsgIDs = append(entry.MsgIDs, m.ID)
	}
	return index
}

// AuthorLookup resolves a message id to its author by msgIds membership.
type AuthorLookup map[string]*models.AuthorEntry

// NewAuthorLookup inverts an author index. If two authors claim one message the
// entry with the smaller id wins so the result does not depend on map order.
func NewAuthorLookup(index models.AuthorIndex) AuthorLookup {
	lookup := make(AuthorLookup)
	for _, entry := range index {
		for _, id := range entry.MsgIDs {
			if prev, ok := lookup[id]; ok && prev.ID < entry.ID {
				continue
			}
			lookup[id] = entry
		}
	}
	return lookup
}

// Resolve returns the author of msgID, or nil.
func (l AuthorLookup) Resolve(msgID string) *models.AuthorEntry {
	return l[msgID]
}

// ReadAuthorIndex reads an authors_<T>.json file.
func ReadAuthorIndex(path string) (models.AuthorIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read author index: %w", err)
	}
	var index models.AuthorIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse author index %s: %w", path, err)
	}
	return index, nil
}
