package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"archive-bot/models"
	"archive-bot/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesHeaderOnce(t *testing.T) {
	l := New(t.TempDir())

	require.NoError(t, l.Append(models.LedgerEntry{Task: models.TaskArchive, GuildID: "1", ChannelID: "2", TimestampMs: 100}))
	require.NoError(t, l.Append(models.LedgerEntry{Task: models.TaskDatabaseInsertion, GuildID: "1", ChannelID: "2", TimestampMs: 100}))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "Task,GuildId,ChannelID,Timestamp\narchive,1,2,100\ndatabaseInsertion,1,2,100\n", string(data))
}

func TestLastArchiveTimeUsesMaximum(t *testing.T) {
	l := New(t.TempDir())
	entries := []models.LedgerEntry{
		{Task: models.TaskArchive, GuildID: "g", ChannelID: "c", TimestampMs: 3000},
		{Task: models.TaskArchive, GuildID: "g", ChannelID: "c", TimestampMs: 9000},
		// Out-of-order line written last.
		{Task: models.TaskArchive, GuildID: "g", ChannelID: "c", TimestampMs: 5000},
		// Other tasks and channels must not move the watermark.
		{Task: models.TaskDatabaseInsertion, GuildID: "g", ChannelID: "c", TimestampMs: 12000},
		{Task: models.TaskArchive, GuildID: "g", ChannelID: "other", TimestampMs: 15000},
		{Task: models.TaskArchive, GuildID: "other", ChannelID: "c", TimestampMs: 16000},
	}
	for _, e := range entries {
		require.NoError(t, l.Append(e))
	}

	last, err := l.LastArchiveTime("g", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), last)
}

func TestLastArchiveTimeNoEntries(t *testing.T) {
	l := New(t.TempDir())

	last, err := l.LastArchiveTime("g", "c")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestLastArchiveTimeFutureResetsToZero(t *testing.T) {
	l := New(t.TempDir())
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Append(models.LedgerEntry{
		Task: models.TaskArchive, GuildID: "g", ChannelID: "c",
		TimestampMs: now.Add(48 * time.Hour).UnixMilli(),
	}))

	last, err := l.LastArchiveTime("g", "c")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestEntriesSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := "Task,GuildId,ChannelID,Timestamp\n" +
		"archive,g,c,1000\n" +
		"archive,g,c\n" +
		"archive,g,c,notanumber\n" +
		"archive,g,c,2000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))

	entries, err := New(dir).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1000), entries[0].TimestampMs)
	assert.Equal(t, int64(2000), entries[1].TimestampMs)
}

type embedRecorder struct {
	embeds []*discordgo.MessageEmbed
}

func (r *embedRecorder) ChannelMessageSendEmbed(_ string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.embeds = append(r.embeds, embed)
	return &discordgo.Message{}, nil
}

func TestEntriesReportsMalformedLinesToAdminChannel(t *testing.T) {
	viper.Set("bot.adminChannelId", "1400000000000000001")
	rec := &embedRecorder{}
	utils.InitLogger(rec)
	t.Cleanup(func() {
		viper.Set("bot.adminChannelId", "")
		utils.ResetLogger()
	})

	dir := t.TempDir()
	content := "Task,GuildId,ChannelID,Timestamp\narchive,g,c\narchive,g,c,1000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))

	entries, err := New(dir).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.Len(t, rec.embeds, 1)
	assert.Equal(t, utils.ColorWarn, rec.embeds[0].Color)
	assert.Equal(t, "ledger", rec.embeds[0].Fields[0].Value)
	assert.Contains(t, rec.embeds[0].Fields[2].Value, "line 2")
}
