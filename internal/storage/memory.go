package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/internal/model"
)

type memberKey struct{ channel, team string }

// Memory is an in-process Store. Values are copied in and out so callers never
// share slices with the store.
type Memory struct {
	mu       sync.Mutex
	channels map[string]model.Channel
	members  map[memberKey]map[string]model.Member
	batches  map[string]*batch.Batch
}

func NewMemory() *Memory {
	return &Memory{
		channels: map[string]model.Channel{},
		members:  map[memberKey]map[string]model.Member{},
		batches:  map[string]*batch.Batch{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) SaveChannel(_ context.Context, ch model.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("channel id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.channels[ch.ID]; ok && ch.CreatedAt.IsZero() {
		ch.CreatedAt = prev.CreatedAt
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	m.channels[ch.ID] = copyChannel(ch)
	return nil
}

func (m *Memory) GetChannel(_ context.Context, id string) (model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return model.Channel{}, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return copyChannel(ch), nil
}

func (m *Memory) EligibleChannels(_ context.Context, cutoff time.Time, afterID string, limit int) ([]model.Channel, error) {
	if limit <= 0 {
		limit = 10
	}
	cut := model.Day(cutoff)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Channel
	for _, ch := range m.sortedChannels() {
		if !ch.Active || ch.ID <= afterID {
			continue
		}
		if !ch.LastSentOn.IsZero() && ch.LastSentOn.After(cut) {
			continue
		}
		out = append(out, copyChannel(ch))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListActiveChannels(_ context.Context) ([]model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Channel
	for _, ch := range m.sortedChannels() {
		if ch.Active {
			out = append(out, copyChannel(ch))
		}
	}
	return out, nil
}

func (m *Memory) SetChannelActive(_ context.Context, id string, active bool) error {
	return m.mutateChannel(id, func(ch *model.Channel) { ch.Active = active })
}

func (m *Memory) MarkChannelPaired(_ context.Context, id string, day time.Time) error {
	return m.mutateChannel(id, func(ch *model.Channel) { ch.LastSentOn = model.Day(day) })
}

func (m *Memory) SaveCircle(_ context.Context, id string, circle []string) error {
	return m.mutateChannel(id, func(ch *model.Channel) { ch.Circle = slices.Clone(circle) })
}

func (m *Memory) mutateChannel(id string, fn func(*model.Channel)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	fn(&ch)
	m.channels[id] = ch
	return nil
}

func (m *Memory) sortedChannels() []model.Channel {
	out := make([]model.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListMemberIDs(_ context.Context, channelID, teamID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[memberKey{channelID, teamID}]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AddMember(_ context.Context, mem model.Member) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{mem.ChannelID, mem.TeamID}
	set := m.members[key]
	if set == nil {
		set = map[string]model.Member{}
		m.members[key] = set
	}
	if _, ok := set[mem.ID]; ok {
		return false, nil
	}
	set[mem.ID] = mem
	return true, nil
}

func (m *Memory) RemoveMember(_ context.Context, channelID, teamID, memberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[memberKey{channelID, teamID}]
	if _, ok := set[memberID]; !ok {
		return false, nil
	}
	delete(set, memberID)
	return true, nil
}

func (m *Memory) CreateBatch(_ context.Context, b *batch.Batch, pairedOn time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; ok {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	ch, ok := m.channels[b.ChannelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", b.ChannelID, ErrNotFound)
	}
	ch.LastSentOn = model.Day(pairedOn)
	m.channels[b.ChannelID] = ch
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*batch.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return copyBatch(b), nil
}

func (m *Memory) UpdatePair(_ context.Context, batchID string, p batch.PairRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	for i := range b.Pairs {
		if b.Pairs[i].Index == p.Index {
			b.Pairs[i] = copyPair(p)
			return nil
		}
	}
	return fmt.Errorf("batch %s pair %d: %w", batchID, p.Index, ErrNotFound)
}

func (m *Memory) UpdateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return fmt.Errorf("batch %s: %w", b.ID, ErrNotFound)
	}
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *Memory) PendingIntroBatches(_ context.Context, staleBefore time.Time) ([]*batch.Batch, error) {
	return m.selectBatches(func(b *batch.Batch) bool {
		switch b.Status {
		case batch.StatusPartiallySent:
			return b.SentOn.IsZero()
		case batch.StatusGenerated:
			return !staleBefore.IsZero() && !b.CreatedAt.After(staleBefore)
		}
		return false
	}), nil
}

func (m *Memory) MidpointDueBatches(_ context.Context, cutoff time.Time) ([]*batch.Batch, error) {
	cut := model.Day(cutoff)
	return m.selectBatches(func(b *batch.Batch) bool {
		return b.Status == batch.StatusIntroSent &&
			!b.SentOn.IsZero() && !b.SentOn.After(cut) &&
			b.MidpointStatus != batch.MidpointSent
	}), nil
}

func (m *Memory) selectBatches(keep func(*batch.Batch) bool) []*batch.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*batch.Batch
	for _, b := range m.batches {
		if keep(b) {
			out = append(out, copyBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyChannel(ch model.Channel) model.Channel {
	ch.Circle = slices.Clone(ch.Circle)
	return ch
}

func copyPair(p batch.PairRecord) batch.PairRecord {
	p.Members = slices.Clone(p.Members)
	return p
}

func copyBatch(b *batch.Batch) *batch.Batch {
	out := *b
	out.Pairs = make([]batch.PairRecord, len(b.Pairs))
	for i, p := range b.Pairs {
		out.Pairs[i] = copyPair(p)
	}
	return &out
}
