package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"archive-bot/database"
	"archive-bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guildID   = "1000000000000000001"
	channelID = "1300000000000000001"
)

type fakeSource struct {
	msgs []*models.RawMessage // newest first
}

func newFakeSource(n int) *fakeSource {
	src := &fakeSource{}
	for i := n - 1; i >= 0; i-- {
		src.msgs = append(src.msgs, &models.RawMessage{
			ID:               fmt.Sprintf("%d", 1400000000000000000+int64(i)),
			CreatedTimestamp: 1700000000000 + int64(i)*1000,
			Content:          fmt.Sprintf("message %d", i),
			Author:           &models.RawAuthor{ID: "1200000000000000001", Username: "alice"},
		})
	}
	return src
}

func (f *fakeSource) FetchMessagesBefore(_ context.Context, _ string, beforeID string, limit int) ([]*models.RawMessage, error) {
	start := 0
	if beforeID != "" {
		start = len(f.msgs)
		for i, m := range f.msgs {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(f.msgs))
	return f.msgs[start:end], nil
}

func (f *fakeSource) ChannelName(context.Context, string) (string, error) {
	return "general", nil
}

func testConfig(dir string) *models.ArchiveConfig {
	return &models.ArchiveConfig{
		OutputDir: dir,
		Archive: models.ArchiveSettings{
			PageSize:   100,
			MaxRetries: 1,
			LeaseTTL:   time.Minute,
			Schedule:   "@hourly",
		},
		Audit:    models.AuditSettings{Schedule: "@daily", MonotonicToleranceMs: 5000, ContentMaxLength: 4000},
		Backfill: models.BackfillSettings{SpotCheckSize: 5},
		Channels: map[string]models.GuildChannels{
			guildID: {Name: "test", Channels: []string{channelID}},
		},
	}
}

func TestArchiveAuditBackfillPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	ctx := context.Background()

	outcomes, err := ArchiveAll(ctx, cfg, newFakeSource(30), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 30, outcomes[0].Report.Written)
	assert.Equal(t, "general_"+channelID, filepath.Base(filepath.Dir(outcomes[0].Path)))

	report, err := AuditAll(ctx, cfg, "")
	require.NoError(t, err)
	assert.True(t, report.Passed(), report.String())

	summaries, err := BackfillAll(ctx, cfg, guildID, false)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 30, summaries[0].Inserted)
	assert.Equal(t, int64(30), summaries[0].RowsAfter)

	report, err = AuditAll(ctx, cfg, guildID)
	require.NoError(t, err)
	assert.True(t, report.Passed(), report.String())

	status, err := database.ReadStatus(filepath.Join(dir, database.StatusFileName))
	require.NoError(t, err)
	g := status.Guilds[guildID]
	require.NotNil(t, g)
	assert.True(t, g.LastArchive.OK)
	assert.True(t, g.LastAudit.OK)
	assert.True(t, g.LastBackfill.OK)
}

func TestArchiveAllWithoutChannels(t *testing.T) {
	cfg := testConfig(t.TempDir())
	_, err := ArchiveAll(context.Background(), cfg, newFakeSource(1), "1000000000000000009")
	assert.Error(t, err)
}

func TestBackfillAllReportsFailingGuild(t *testing.T) {
	cfg := testConfig(t.TempDir())
	summaries, err := BackfillAll(context.Background(), cfg, guildID, false)
	assert.Error(t, err)
	require.Len(t, summaries, 1)
	assert.False(t, summaries[0].OK())
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Archive.Schedule = "every tuesday"
	s := NewScheduler(cfg, Jobs{Archive: func(context.Context) error { return nil }})
	assert.Error(t, s.Start())
}

func TestSchedulerSerializesJobs(t *testing.T) {
	s := NewScheduler(testConfig(t.TempDir()), Jobs{})

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	job := func(context.Context) error {
		mu.Lock()
		running++
		maxSeen = max(maxSeen, running)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return errors.New("ignored")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run("test", job)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestSchedulerSkipsJobsAfterStop(t *testing.T) {
	s := NewScheduler(testConfig(t.TempDir()), Jobs{})
	require.NoError(t, s.Start())
	s.Stop()

	called := false
	s.run("test", func(context.Context) error { called = true; return nil })
	assert.False(t, called)
}
