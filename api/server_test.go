package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"archive-bot/database"
	"archive-bot/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guildID = "1000000000000000001"

func get(t *testing.T, app *fiber.App, path string) (int, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func seedSnapshots(t *testing.T, dir string) {
	t.Helper()
	store, _, err := database.OpenGuildStore(context.Background(), dir, guildID)
	require.NoError(t, err)
	defer store.Close()
	ss, err := store.Snapshots()
	require.NoError(t, err)
	for i, ch := range []string{"1300000000000000001", "1300000000000000002", "1300000000000000001"} {
		require.NoError(t, ss.Record(context.Background(), &models.AuditSnapshot{
			SnapshotDate: "2026-01-0" + string(rune('1'+i)),
			GuildID:      guildID,
			ChannelID:    ch,
			RowCount:     int64(10 * (i + 1)),
		}))
	}
}

func TestHealth(t *testing.T) {
	app := NewServer(t.TempDir(), true).App()
	code, body := get(t, app, "/healthz")
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	app := NewServer(dir, true).App()

	code, body := get(t, app, "/status")
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"guilds":{}}`, string(body))

	sm := database.NewStatusManager(dir)
	sm.Record(guildID, database.RunAudit, true, "13 checks, 0 hard failures")
	require.NoError(t, sm.Save())

	code, body = get(t, app, "/status")
	assert.Equal(t, fiber.StatusOK, code)
	var status models.ArchiveStatus
	require.NoError(t, json.Unmarshal(body, &status))
	require.Contains(t, status.Guilds, guildID)
	assert.True(t, status.Guilds[guildID].LastAudit.OK)
}

func TestGuilds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, guildID), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "attachments"), 0755))

	code, body := get(t, NewServer(dir, true).App(), "/guilds")
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"guilds":["`+guildID+`"]}`, string(body))
}

func TestSnapshots(t *testing.T) {
	dir := t.TempDir()
	seedSnapshots(t, dir)
	app := NewServer(dir, true).App()

	code, body := get(t, app, "/guilds/"+guildID+"/snapshots")
	require.Equal(t, fiber.StatusOK, code)
	var snaps []models.AuditSnapshot
	require.NoError(t, json.Unmarshal(body, &snaps))
	require.Len(t, snaps, 3)
	assert.Equal(t, int64(30), snaps[0].RowCount)

	code, body = get(t, app, "/guilds/"+guildID+"/snapshots?channel=1300000000000000001&limit=1")
	require.Equal(t, fiber.StatusOK, code)
	snaps = nil
	require.NoError(t, json.Unmarshal(body, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "2026-01-03", snaps[0].SnapshotDate)
}

func TestSnapshotsErrors(t *testing.T) {
	app := NewServer(t.TempDir(), true).App()

	code, _ := get(t, app, "/guilds/not-a-guild/snapshots")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = get(t, app, "/guilds/"+guildID+"/snapshots?channel=general")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = get(t, app, "/guilds/"+guildID+"/snapshots")
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestMetrics(t *testing.T) {
	code, body := get(t, NewServer(t.TempDir(), true).App(), "/metrics")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, string(body), "go_goroutines")
}
