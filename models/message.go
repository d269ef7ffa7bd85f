package models

import (
	"encoding/json"
	"fmt"
)

// RawMessage is a message as returned by the platform client, before scrubbing.
type RawMessage struct {
	ID               string
	ChannelID        string
	CreatedTimestamp int64 // epoch milliseconds
	Content          string
	Author           *RawAuthor
	Attachments      []RawAttachment
	Reactions        []RawReaction
	Embeds           []json.RawMessage
	Mentions         []string // user IDs
	Reference        *MessageReference
	Type             int
	EditedTimestamp  *int64
	Flags            int
	Pinned           bool
	System           bool
	WebhookID        string
	ApplicationID    string
	Interaction      *RawInteraction
	Thread           json.RawMessage
	Poll             json.RawMessage
	Stickers         []RawSticker
	Components       []json.RawMessage
	// Position and Nonce are part of the collaborator contract but discordgo does
	// not decode them, so only other MessageSource implementations set them.
	Position int
	Nonce    string
}

// RawSticker is a sticker item sent with a message.
type RawSticker struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FormatType int    `json:"formatType"`
}

// RawAuthor is the author of a message.
type RawAuthor struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"globalName"`
}

// RawAttachment describes a file attached to a message.
type RawAttachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ProxyURL    string `json:"proxyUrl,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// MessageReference points at the message being replied to.
type MessageReference struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId,omitempty"`
	GuildID   string `json:"guildId,omitempty"`
}

// RawInteraction identifies the interaction that produced a message.
type RawInteraction struct {
	ID     string `json:"id"`
	Type   int    `json:"type"`
	Name   string `json:"name"`
	UserID string `json:"userId,omitempty"`
}

// Emoji is the normalized emoji of a reaction. ID is empty for unicode emoji.
type Emoji struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Animated bool   `json:"animated"`
}

// UnmarshalJSON accepts either a bare emoji string or an emoji object.
func (e *Emoji) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*e = Emoji{Name: name}
		return nil
	}
	var obj struct {
		Name     string  `json:"name"`
		ID       *string `json:"id"`
		Animated bool    `json:"animated"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("emoji is neither a string nor an object: %w", err)
	}
	*e = Emoji{Name: obj.Name, Animated: obj.Animated}
	if obj.ID != nil {
		e.ID = *obj.ID
	}
	return nil
}

// RawReaction is a reaction in any of its historical shapes.
type RawReaction struct {
	Emoji Emoji    `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Reaction is the normalized reaction stored in metadata.
type Reaction struct {
	Emoji Emoji    `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Metadata is the catch-all object for every attribute beyond id, createdTimestamp
// and content. It never carries those three keys.
type Metadata map[string]any

// ArchivedMessage is the scrubbed file form of a message.
type ArchivedMessage struct {
	ID               string   `json:"id"`
	CreatedTimestamp int64    `json:"createdTimestamp"`
	Content          string   `json:"content"`
	Metadata         Metadata `json:"metadata,omitempty"`
}

// AuthorEntry is one author of a run, with the messages they wrote in it.
type AuthorEntry struct {
	ID         string   `json:"id"`
	Username   string   `json:"username"`
	GlobalName string   `json:"globalName"`
	MsgIDs     []string `json:"msgIds"`
}

// AuthorIndex maps author ID to the author's entry for a single run.
type AuthorIndex map[string]*AuthorEntry
