// Package normalize reduces platform messages to the archived form and upgrades
// historical archive records to the current shape.
package normalize

import (
	"archive-bot/models"
)

// Metadata keys. Core fields (id, createdTimestamp, content) are never metadata keys.
const (
	KeyReactions       = "reactions"
	KeyReference       = "reference"
	KeyAttachments     = "attachments"
	KeyEmbeds          = "embeds"
	KeyMentions        = "mentions"
	KeyType            = "type"
	KeyEditedTimestamp = "editedTimestamp"
	KeyFlags           = "flags"
	KeyPinned          = "pinned"
	KeySystem          = "system"
	KeyWebhookID       = "webhookId"
	KeyApplicationID   = "applicationId"
	KeyInteraction     = "interaction"
	KeyThread          = "thread"
	KeyPoll            = "poll"
	KeyStickers        = "stickers"
	KeyComponents      = "components"
	KeyPosition        = "position"
	KeyNonce           = "nonce"
)

// CoreKeys are the fields kept outside metadata.
var CoreKeys = []string{"id", "createdTimestamp", "content"}

// Scrub extracts the core fields verbatim and folds every other observed attribute
// into metadata. Metadata is nil when nothing beyond the core fields was observed.
func Scrub(raw *models.RawMessage) models.ArchivedMessage {
	msg := models.ArchivedMessage{
		ID:               raw.ID,
		CreatedTimestamp: raw.CreatedTimestamp,
		Content:          raw.Content,
	}

	md := models.Metadata{}
	if len(raw.Reactions) > 0 {
		md[KeyReactions] = NormalizeReactions(raw.Reactions)
	}
	if raw.Reference != nil && raw.Reference.MessageID != "" {
		md[KeyReference] = *raw.Reference
	}
	if len(raw.Attachments) > 0 {
		md[KeyAttachments] = raw.Attachments
	}
	if len(raw.Embeds) > 0 {
		md[KeyEmbeds] = raw.Embeds
	}
	if len(raw.Mentions) > 0 {
		md[KeyMentions] = raw.Mentions
	}
	if raw.Type != 0 {
		md[KeyType] = raw.Type
	}
	if raw.EditedTimestamp != nil {
		md[KeyEditedTimestamp] = *raw.EditedTimestamp
	}
	if raw.Flags != 0 {
		md[KeyFlags] = raw.Flags
	}
	if raw.Pinned {
		md[KeyPinned] = true
	}
	if raw.System {
		md[KeySystem] = true
	}
	if raw.WebhookID != "" {
		md[KeyWebhookID] = raw.WebhookID
	}
	if raw.ApplicationID != "" {
		md[KeyApplicationID] = raw.ApplicationID
	}
	if raw.Interaction != nil {
		md[KeyInteraction] = *raw.Interaction
	}
	if len(raw.Thread) > 0 && !isEmptyJSON(raw.Thread) {
		md[KeyThread] = raw.Thread
	}
	if len(raw.Poll) > 0 && !isEmptyJSON(raw.Poll) {
		md[KeyPoll] = raw.Poll
	}
	if len(raw.Stickers) > 0 {
		md[KeyStickers] = raw.Stickers
	}
	if len(raw.Components) > 0 {
		md[KeyComponents] = raw.Components
	}
	if raw.Position != 0 {
		md[KeyPosition] = raw.Position
	}
	if raw.Nonce != "" {
		md[KeyNonce] = raw.Nonce
	}

	if len(md) > 0 {
		msg.Metadata = md
	}
	return msg
}
