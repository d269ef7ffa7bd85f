package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"archive-bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed history newest-first, honoring the before cursor.
type fakeSource struct {
	history []*models.RawMessage
	calls   []string
	fail    map[int]int // call index -> remaining failures
}

func newFakeSource(n int, baseTs int64) *fakeSource {
	src := &fakeSource{fail: map[int]int{}}
	for i := 0; i < n; i++ {
		src.history = append(src.history, &models.RawMessage{
			ID:               fmt.Sprintf("%d", 1100000000000000000+int64(i)),
			CreatedTimestamp: baseTs + int64(i)*1000,
			Content:          fmt.Sprintf("message %d", i),
		})
	}
	sort.Slice(src.history, func(i, j int) bool {
		return src.history[i].CreatedTimestamp > src.history[j].CreatedTimestamp
	})
	return src
}

func (f *fakeSource) FetchMessagesBefore(_ context.Context, _ string, beforeID string, limit int) ([]*models.RawMessage, error) {
	call := len(f.calls)
	f.calls = append(f.calls, beforeID)
	if f.fail[call] > 0 {
		f.fail[call]--
		f.calls = f.calls[:call]
		return nil, errors.New("503 service unavailable")
	}

	start := 0
	if beforeID != "" {
		start = len(f.history)
		for i, m := range f.history {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[start:end], nil
}

func testFetcher(src MessageSource, retries int) (*Fetcher, *[]time.Duration) {
	var slept []time.Duration
	f := NewFetcher(src, Settings{PageSize: 100, PageDelay: time.Second, RetryBackoff: 5 * time.Second, MaxRetries: retries})
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return f, &slept
}

func TestFetchFirstRunPaginatesUntilEmptyPage(t *testing.T) {
	src := newFakeSource(250, 1700000000000)
	f, slept := testFetcher(src, 0)

	batch, err := f.Fetch(context.Background(), "c", 0)
	require.NoError(t, err)

	assert.False(t, batch.Failed)
	assert.Len(t, batch.Messages, 250)
	assert.Equal(t, 4, batch.Pages)
	assert.Len(t, src.calls, 4)
	assert.Equal(t, "", src.calls[0])
	assert.Equal(t, src.history[99].ID, src.calls[1])
	assert.Equal(t, src.history[199].ID, src.calls[2])
	// one delay after every page
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second, time.Second}, *slept)

	ids := make(map[string]bool)
	for _, m := range batch.Messages {
		assert.False(t, ids[m.ID], "duplicate %s", m.ID)
		ids[m.ID] = true
	}
}

func TestFetchStopsAtBoundary(t *testing.T) {
	src := newFakeSource(250, 1700000000000)
	f, _ := testFetcher(src, 0)
	// Messages 0..149 are at or before the boundary.
	boundary := int64(1700000000000 + 149*1000)

	batch, err := f.Fetch(context.Background(), "c", boundary)
	require.NoError(t, err)

	assert.Len(t, batch.Messages, 100)
	assert.Equal(t, 2, batch.Pages)
	for _, m := range batch.Messages {
		assert.Greater(t, m.CreatedTimestamp, boundary)
	}
}

func TestFetchNoNewActivityReadsOnePage(t *testing.T) {
	src := newFakeSource(250, 1700000000000)
	f, _ := testFetcher(src, 0)
	newest := src.history[0].CreatedTimestamp

	batch, err := f.Fetch(context.Background(), "c", newest)
	require.NoError(t, err)

	assert.Empty(t, batch.Messages)
	assert.Equal(t, 1, batch.Pages)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	src := newFakeSource(50, 1700000000000)
	src.fail[0] = 2
	f, slept := testFetcher(src, 3)

	batch, err := f.Fetch(context.Background(), "c", 0)
	require.NoError(t, err)

	assert.False(t, batch.Failed)
	assert.Len(t, batch.Messages, 50)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, time.Second, time.Second}, *slept)
}

func TestFetchExhaustedRetriesYieldsEmptyBatch(t *testing.T) {
	src := newFakeSource(250, 1700000000000)
	// the second page never succeeds
	src.fail[1] = 10
	f, _ := testFetcher(src, 2)

	batch, err := f.Fetch(context.Background(), "c", 0)
	require.NoError(t, err)

	assert.True(t, batch.Failed)
	assert.Empty(t, batch.Messages)
}

func TestFetchReturnsContextError(t *testing.T) {
	src := newFakeSource(10, 1700000000000)
	f := NewFetcher(src, Settings{PageDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "c", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFetcherClampsPageSize(t *testing.T) {
	assert.Equal(t, 100, NewFetcher(nil, Settings{PageSize: 0}).settings.PageSize)
	assert.Equal(t, 100, NewFetcher(nil, Settings{PageSize: 500}).settings.PageSize)
	assert.Equal(t, 25, NewFetcher(nil, Settings{PageSize: 25}).settings.PageSize)
}
