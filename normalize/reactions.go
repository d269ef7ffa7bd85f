package normalize

import (
	"encoding/json"
	"fmt"

	"archive-bot/models"
)

// NormalizeReactions converts reactions to {emoji:{name,id,animated}, count, users:[id]}.
func NormalizeReactions(raw []models.RawReaction) []models.Reaction {
	out := make([]models.Reaction, 0, len(raw))
	for _, r := range raw {
		users := r.Users
		if users == nil {
			users = []string{}
		}
		out = append(out, models.Reaction{
			Emoji: r.Emoji,
			Count: r.Count,
			Users: users,
		})
	}
	return out
}

// NormalizeReactionsJSON parses a reactions array in any historical shape, where each
// emoji is either a bare string or an object, and normalizes it.
func NormalizeReactionsJSON(data []byte) ([]models.Reaction, error) {
	var raw []models.RawReaction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse reactions: %w", err)
	}
	return NormalizeReactions(raw), nil
}
