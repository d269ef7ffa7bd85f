package utils

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	channels []string
	embeds   []*discordgo.MessageEmbed
}

func (r *recordingSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.channels = append(r.channels, channelID)
	r.embeds = append(r.embeds, embed)
	return &discordgo.Message{}, nil
}

func TestLogMirrorsWarningsToAdminChannel(t *testing.T) {
	viper.Set("bot.adminChannelId", "1400000000000000001")
	t.Cleanup(func() {
		viper.Set("bot.adminChannelId", "")
		ResetLogger()
	})

	rec := &recordingSender{}
	InitLogger(rec)

	Info("archiver", "ArchiveChannel", "quiet")
	Warn("archiver", "ArchiveChannel", "skipped 2 messages")
	Error("audit", "Audit", "hard check failed")

	require.Len(t, rec.embeds, 2)
	assert.Equal(t, []string{"1400000000000000001", "1400000000000000001"}, rec.channels)
	assert.Equal(t, ColorWarn, rec.embeds[0].Color)
	assert.Equal(t, ColorError, rec.embeds[1].Color)
	assert.Equal(t, "hard check failed", rec.embeds[1].Fields[2].Value)
}

func TestLogWithoutSenderDoesNotPanic(t *testing.T) {
	ResetLogger()
	assert.NotPanics(t, func() { Error("m", "op", "details") })
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
