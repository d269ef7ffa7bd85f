// Package scanner pages a channel's history backward until it crosses the last
// archived boundary.
package scanner

import (
	"context"
	"fmt"
	"time"

	"archive-bot/models"
	"archive-bot/utils"
)

// MessageSource is the platform client. Messages come back newest-first.
type MessageSource interface {
	FetchMessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]*models.RawMessage, error)
}

// Settings controls paging and retry behavior.
type Settings struct {
	PageSize     int
	PageDelay    time.Duration
	RetryBackoff time.Duration
	MaxRetries   int
}

// Batch is the result of one fetch. Messages are newest-first and strictly newer
// than the boundary. Failed is set when a page could not be fetched after retries,
// in which case Messages is empty.
type Batch struct {
	Messages []*models.RawMessage
	Pages    int
	Failed   bool
}

// Fetcher pulls pages from a MessageSource.
type Fetcher struct {
	source   MessageSource
	settings Settings
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher. A page size outside 1..100 falls back to 100.
func NewFetcher(source MessageSource, settings Settings) *Fetcher {
	if settings.PageSize <= 0 || settings.PageSize > 100 {
		settings.PageSize = 100
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	return &Fetcher{source: source, settings: settings, sleep: sleepContext}
}

// Fetch returns every message in the channel created after lastArchiveTime.
// Paging stops at the first empty page or at the first page whose oldest message
// is at or before the boundary. Transient errors are retried with a fixed backoff;
// if a page still fails the batch is returned empty with Failed set, so a partial
// history is never written. Only context cancellation is returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, channelID string, lastArchiveTime int64) (Batch, error) {
	var batch Batch
	seen := make(map[string]bool)
	before := ""

	for {
		page, err := f.fetchPage(ctx, channelID, before)
		if err != nil {
			if ctx.Err() != nil {
				return Batch{}, ctx.Err()
			}
			utils.Error("scanner", "Fetch", fmt.Sprintf("channel %s: giving up after %d retries: %v", channelID, f.settings.MaxRetries, err))
			return Batch{Pages: batch.Pages, Failed: true}, nil
		}
		batch.Pages++

		if err := f.sleep(ctx, f.settings.PageDelay); err != nil {
			return Batch{}, err
		}

		if len(page) == 0 {
			break
		}

		for _, m := range page {
			if m.CreatedTimestamp <= lastArchiveTime || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			batch.Messages = append(batch.Messages, m)
		}

		oldest := page[len(page)-1]
		if oldest.CreatedTimestamp <= lastArchiveTime {
			break
		}
		if oldest.ID == before {
			// The source ignored the cursor; stop instead of looping forever.
			utils.Warn("scanner", "Fetch", fmt.Sprintf("channel %s: cursor %s did not advance", channelID, before))
			break
		}
		before = oldest.ID
	}

	return batch, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, channelID, before string) ([]*models.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= f.settings.MaxRetries; attempt++ {
		if attempt > 0 {
			utils.Warn("scanner", "fetchPage", fmt.Sprintf("channel %s: retry %d/%d after %v: %v",
				channelID, attempt, f.settings.MaxRetries, f.settings.RetryBackoff, lastErr))
			if err := f.sleep(ctx, f.settings.RetryBackoff); err != nil {
				return nil, err
			}
		}
		page, err := f.source.FetchMessagesBefore(ctx, channelID, before, f.settings.PageSize)
		if err == nil {
			return page, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
