package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrChannelBusy is returned when another run holds a live lease on the channel.
var ErrChannelBusy = errors.New("channel is being archived by another run")

// Lease is an advisory per-channel lock stored in the guild's database.
type Lease struct {
	store     *Store
	ChannelID string
	Holder    string
	ExpiresAt time.Time
}

func (s *Store) ensureLeaseTable(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
    CREATE TABLE IF NOT EXISTS archive_leases (
        channel_id TEXT PRIMARY KEY,
        holder TEXT NOT NULL,
        expires_at INTEGER NOT NULL
    );`)
	if err != nil {
		return fmt.Errorf("failed to create lease table: %w", err)
	}
	return nil
}

// AcquireLease takes the channel's lease for ttl. An expired lease is taken over;
// a live one held by someone else yields ErrChannelBusy.
func (s *Store) AcquireLease(ctx context.Context, channelID string, ttl time.Duration) (*Lease, error) {
	if err := s.ensureLeaseTable(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	lease := &Lease{
		store:     s,
		ChannelID: channelID,
		Holder:    uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}

	res, err := s.DB.ExecContext(ctx, `
        INSERT INTO archive_leases (channel_id, holder, expires_at) VALUES (?, ?, ?)
        ON CONFLICT(channel_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
        WHERE archive_leases.expires_at <= ?`,
		channelID, lease.Holder, lease.ExpiresAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for channel %s: %w", channelID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for channel %s: %w", channelID, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelBusy, channelID)
	}
	return lease, nil
}

// Release drops the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.store.DB.ExecContext(ctx,
		"DELETE FROM archive_leases WHERE channel_id = ? AND holder = ?", l.ChannelID, l.Holder)
	if err != nil {
		return fmt.Errorf("failed to release lease for channel %s: %w", l.ChannelID, err)
	}
	return nil
}
