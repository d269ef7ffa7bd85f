package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"archive-bot/config"
	"archive-bot/models"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfig(t *testing.T, dir string) {
	t.Helper()
	prev := loadConfig
	loadConfig = func() (*models.ArchiveConfig, error) {
		c, err := config.Decode(viper.New())
		if err != nil {
			return nil, err
		}
		c.OutputDir = dir
		return c, nil
	}
	t.Cleanup(func() {
		loadConfig = prev
		outputDir, guildFlag = "", ""
		backfillDryRun = false
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"archive", "init", "backfill", "audit", "serve", "bot"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, backfillCmd.Flags().Lookup("dry-run"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("guild"))
}

func TestAuditEmptyOutputPasses(t *testing.T) {
	useConfig(t, t.TempDir())
	out, err := execute(t, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "audit passed")
}

func TestAuditFailureReturnsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "1000000000000000001"), 0755))
	useConfig(t, dir)

	out, err := execute(t, "audit")
	assert.ErrorIs(t, err, errAuditFailed)
	assert.Contains(t, out, "audit FAILED")
}

func TestInitCreatesStore(t *testing.T) {
	dir := t.TempDir()
	useConfig(t, dir)

	out, err := execute(t, "init", "--guild", "1000000000000000001")
	require.NoError(t, err)
	assert.Contains(t, out, "store ready")
	assert.FileExists(t, filepath.Join(dir, "1000000000000000001", "archive.db"))
}

func TestOutputFlagOverridesConfig(t *testing.T) {
	useConfig(t, t.TempDir())
	other := t.TempDir()

	_, err := execute(t, "init", "-o", other, "-g", "1000000000000000001")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(other, "1000000000000000001", "archive.db"))
}

func TestArchiveChannelRequiresGuild(t *testing.T) {
	useConfig(t, t.TempDir())
	_, err := execute(t, "archive", "--channel", "1300000000000000001")
	assert.Error(t, err)
	archiveChannel = ""
}
