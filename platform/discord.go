// Package platform adapts a discordgo session to the scanner's MessageSource.
package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"archive-bot/models"
	"archive-bot/utils"

	"github.com/bwmarrin/discordgo"
)

// reactionUserPageSize is the maximum page size of the reactions endpoint.
const reactionUserPageSize = 100

// DiscordSource fetches channel history through a discordgo session.
type DiscordSource struct {
	session        *discordgo.Session
	fetchReactions bool
}

// NewDiscordSource returns a source backed by s. When fetchReactions is set, the users
// behind every reaction are fetched one reaction at a time.
func NewDiscordSource(s *discordgo.Session, fetchReactions bool) *DiscordSource {
	return &DiscordSource{session: s, fetchReactions: fetchReactions}
}

// FetchMessagesBefore returns up to limit messages older than beforeID, newest-first.
func (d *DiscordSource) FetchMessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]*models.RawMessage, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for channel %s: %w", channelID, err)
	}

	out := make([]*models.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		raw := ConvertMessage(m)
		if d.fetchReactions {
			d.fillReactionUsers(ctx, channelID, m, raw)
		}
		out = append(out, raw)
	}
	return out, nil
}

// ChannelName resolves a channel's current name.
func (d *DiscordSource) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	return ch.Name, nil
}

// fillReactionUsers leaves Users nil for a reaction whose users could not be fetched.
func (d *DiscordSource) fillReactionUsers(ctx context.Context, channelID string, m *discordgo.Message, raw *models.RawMessage) {
	for i, r := range m.Reactions {
		if r.Emoji == nil {
			continue
		}
		users, err := d.reactionUsers(ctx, channelID, m.ID, r.Emoji.APIName())
		if err != nil {
			utils.Warn("platform", "fillReactionUsers", fmt.Sprintf("message %s emoji %s: %v", m.ID, r.Emoji.Name, err))
			continue
		}
		raw.Reactions[i].Users = users
	}
}

func (d *DiscordSource) reactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]string, error) {
	ids := []string{}
	after := ""
	for {
		users, err := d.session.MessageReactions(channelID, messageID, emoji, reactionUserPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		if len(users) < reactionUserPageSize {
			return ids, nil
		}
		after = users[len(users)-1].ID
	}
}

// ConvertMessage maps a discordgo message onto the platform-neutral raw form.
// Reaction users are not populated here.
func ConvertMessage(m *discordgo.Message) *models.RawMessage {
	raw := &models.RawMessage{
		ID:               m.ID,
		ChannelID:        m.ChannelID,
		CreatedTimestamp: m.Timestamp.UnixMilli(),
		Content:          m.Content,
		Type:             int(m.Type),
		Flags:            int(m.Flags),
		Pinned:           m.Pinned,
		WebhookID:        m.WebhookID,
	}
	if m.Timestamp.IsZero() {
		if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
			raw.CreatedTimestamp = ts.UnixMilli()
		}
	}

	if m.Author != nil {
		raw.Author = &models.RawAuthor{
			ID:         m.Author.ID,
			Username:   m.Author.Username,
			GlobalName: m.Author.GlobalName,
		}
		raw.System = m.Author.System
	}
	if m.EditedTimestamp != nil {
		edited := m.EditedTimestamp.UnixMilli()
		raw.EditedTimestamp = &edited
	}
	if m.Application != nil {
		raw.ApplicationID = m.Application.ID
	}
	if m.MessageReference != nil {
		raw.Reference = &models.MessageReference{
			MessageID: m.MessageReference.MessageID,
			ChannelID: m.MessageReference.ChannelID,
			GuildID:   m.MessageReference.GuildID,
		}
	}
	if m.Interaction != nil {
		raw.Interaction = &models.RawInteraction{
			ID:   m.Interaction.ID,
			Type: int(m.Interaction.Type),
			Name: m.Interaction.Name,
		}
		if m.Interaction.User != nil {
			raw.Interaction.UserID = m.Interaction.User.ID
		}
	}

	for _, a := range m.Attachments {
		raw.Attachments = append(raw.Attachments, models.RawAttachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ProxyURL:    a.ProxyURL,
			ContentType: a.ContentType,
			Size:        a.Size,
			Width:       a.Width,
			Height:      a.Height,
		})
	}
	if m.Thread != nil {
		if data, err := json.Marshal(m.Thread); err == nil {
			raw.Thread = data
		}
	}
	if m.Poll != nil {
		if data, err := json.Marshal(m.Poll); err == nil {
			raw.Poll = data
		}
	}
	for _, s := range m.StickerItems {
		raw.Stickers = append(raw.Stickers, models.RawSticker{ID: s.ID, Name: s.Name, FormatType: int(s.FormatType)})
	}
	for _, c := range m.Components {
		if data, err := json.Marshal(c); err == nil {
			raw.Components = append(raw.Components, data)
		}
	}
	for _, e := range m.Embeds {
		if data, err := json.Marshal(e); err == nil {
			raw.Embeds = append(raw.Embeds, data)
		}
	}
	for _, u := range m.Mentions {
		raw.Mentions = append(raw.Mentions, u.ID)
	}
	for _, r := range m.Reactions {
		var emoji models.Emoji
		if r.Emoji != nil {
			emoji = models.Emoji{Name: r.Emoji.Name, ID: r.Emoji.ID, Animated: r.Emoji.Animated}
		}
		raw.Reactions = append(raw.Reactions, models.RawReaction{Emoji: emoji, Count: r.Count})
	}
	return raw
}
