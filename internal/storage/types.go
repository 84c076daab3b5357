package storage

import (
	"context"
	"errors"
	"time"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/internal/model"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a lib/pq connection string
//   - "memory": no settings
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means driver default
}

// Store is the persistence API used by the passes and the membership syncer.
type Store interface {
	ChannelStore
	MemberStore
	BatchStore
	Close() error
}

type ChannelStore interface {
	// SaveChannel inserts or replaces a channel row.
	SaveChannel(ctx context.Context, ch model.Channel) error
	// GetChannel returns ErrNotFound for unknown ids.
	GetChannel(ctx context.Context, id string) (model.Channel, error)
	// EligibleChannels returns up to limit active channels that were never
	// paired or last paired on or before cutoff, with ids greater than
	// afterID, ordered by id. An empty afterID starts at the first channel.
	EligibleChannels(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]model.Channel, error)
	ListActiveChannels(ctx context.Context) ([]model.Channel, error)
	SetChannelActive(ctx context.Context, id string, active bool) error
	// MarkChannelPaired stamps the last-paired day without creating a batch.
	MarkChannelPaired(ctx context.Context, id string, day time.Time) error
	SaveCircle(ctx context.Context, id string, circle []string) error
}

type MemberStore interface {
	ListMemberIDs(ctx context.Context, channelID, teamID string) ([]string, error)
	// AddMember reports false when the member was already cached.
	AddMember(ctx context.Context, m model.Member) (bool, error)
	// RemoveMember reports false when the member was not cached.
	RemoveMember(ctx context.Context, channelID, teamID, memberID string) (bool, error)
}

type BatchStore interface {
	// CreateBatch writes the batch, its pair records and the channel's
	// last-paired day in one transaction.
	CreateBatch(ctx context.Context, b *batch.Batch, pairedOn time.Time) error
	GetBatch(ctx context.Context, id string) (*batch.Batch, error)
	UpdatePair(ctx context.Context, batchID string, p batch.PairRecord) error
	// UpdateBatch writes the batch aggregate together with every pair record.
	UpdateBatch(ctx context.Context, b *batch.Batch) error
	// PendingIntroBatches returns PARTIALLY_SENT batches with no sent day and
	// GENERATED batches created on or before staleBefore (zero disables the
	// latter), oldest first.
	PendingIntroBatches(ctx context.Context, staleBefore time.Time) ([]*batch.Batch, error)
	// MidpointDueBatches returns INTRO_SENT batches sent on or before cutoff
	// whose midpoint status is not SENT, oldest first.
	MidpointDueBatches(ctx context.Context, cutoff time.Time) ([]*batch.Batch, error)
}
