// Package membership keeps the local member cache of each channel in step with
// the messaging platform and maintains the channel's rotation circle as members
// join and leave.
package membership

import (
	"context"
	"fmt"
	"sync"

	"github.com/geoffrothman/smores/internal/model"
	"github.com/geoffrothman/smores/internal/pairing"
	"github.com/geoffrothman/smores/pkg/logx"
)

// Lister pages through the remote member list of a channel. An empty next
// cursor ends the listing.
type Lister interface {
	ListMembers(ctx context.Context, channelID, cursor string) (ids []string, next string, err error)
}

type Store interface {
	ListMemberIDs(ctx context.Context, channelID, teamID string) ([]string, error)
	AddMember(ctx context.Context, m model.Member) (bool, error)
	RemoveMember(ctx context.Context, channelID, teamID, memberID string) (bool, error)
	SaveCircle(ctx context.Context, channelID string, circle []string) error
}

// Result counts cache changes made by one sync.
type Result struct {
	Remote  int
	Added   int
	Removed int
}

// maxPages bounds a listing whose cursor never terminates.
const maxPages = 500

type Syncer struct {
	store Store
	log   logx.Logger

	rndMu sync.Mutex
	rnd   pairing.Source
}

func NewSyncer(store Store, rnd pairing.Source, log logx.Logger) *Syncer {
	if rnd == nil {
		rnd = pairing.NewSource()
	}
	return &Syncer{store: store, rnd: rnd, log: log.With(logx.String("comp", "membership"))}
}

// Sync fetches every remote member of ch, caches new members and drops cached
// members that left. The circle on ch is updated in place and persisted after
// each change.
func (s *Syncer) Sync(ctx context.Context, ch *model.Channel, l Lister) (Result, error) {
	var (
		res    Result
		remote = map[string]struct{}{}
		order  []string
		cursor string
	)
	for page := 0; ; page++ {
		if page == maxPages {
			return res, fmt.Errorf("list members of %s: cursor did not terminate", ch.ID)
		}
		ids, next, err := l.ListMembers(ctx, ch.ID, cursor)
		if err != nil {
			return res, fmt.Errorf("list members of %s: %w", ch.ID, err)
		}
		for _, id := range ids {
			if _, dup := remote[id]; dup || id == "" {
				continue
			}
			remote[id] = struct{}{}
			order = append(order, id)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	res.Remote = len(order)

	cached, err := s.store.ListMemberIDs(ctx, ch.ID, ch.TeamID)
	if err != nil {
		return res, fmt.Errorf("cached members of %s: %w", ch.ID, err)
	}
	known := make(map[string]struct{}, len(cached))
	for _, id := range cached {
		known[id] = struct{}{}
	}

	for _, id := range order {
		if _, ok := known[id]; ok {
			continue
		}
		added, err := s.Join(ctx, ch, id)
		if err != nil {
			return res, err
		}
		if added {
			res.Added++
		}
	}
	for _, id := range cached {
		if _, ok := remote[id]; ok {
			continue
		}
		removed, err := s.Leave(ctx, ch, id)
		if err != nil {
			return res, err
		}
		if removed {
			res.Removed++
		}
	}

	if res.Added+res.Removed > 0 {
		s.log.Info("members synced",
			logx.String("channel", ch.ID),
			logx.Int("remote", res.Remote),
			logx.Int("added", res.Added),
			logx.Int("removed", res.Removed),
		)
	}
	return res, nil
}

// Join caches memberID for ch and inserts it into the circle. It reports false
// if the member was already cached.
func (s *Syncer) Join(ctx context.Context, ch *model.Channel, memberID string) (bool, error) {
	added, err := s.store.AddMember(ctx, model.Member{
		ChannelID: ch.ID,
		TeamID:    ch.TeamID,
		ID:        memberID,
		OptedIn:   true,
	})
	if err != nil {
		return false, fmt.Errorf("add member %s to %s: %w", memberID, ch.ID, err)
	}
	if !added {
		return false, nil
	}
	ch.Circle = pairing.InsertMember(ch.Circle, memberID)
	if err := s.store.SaveCircle(ctx, ch.ID, ch.Circle); err != nil {
		return true, fmt.Errorf("save circle of %s: %w", ch.ID, err)
	}
	return true, nil
}

// Leave drops memberID from the cache and rotates the circle. It reports false
// if the member was not cached.
func (s *Syncer) Leave(ctx context.Context, ch *model.Channel, memberID string) (bool, error) {
	removed, err := s.store.RemoveMember(ctx, ch.ID, ch.TeamID, memberID)
	if err != nil {
		return false, fmt.Errorf("remove member %s from %s: %w", memberID, ch.ID, err)
	}
	if !removed {
		return false, nil
	}
	s.rndMu.Lock()
	ch.Circle = pairing.RemoveMember(ch.Circle, memberID, s.rnd)
	s.rndMu.Unlock()
	if err := s.store.SaveCircle(ctx, ch.ID, ch.Circle); err != nil {
		return true, fmt.Errorf("save circle of %s: %w", ch.ID, err)
	}
	return true, nil
}
