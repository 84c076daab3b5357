package slack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/geoffrothman/smores/pkg/logx"
)

// ErrNoInstallation is returned for a workspace the bot is not installed in.
var ErrNoInstallation = errors.New("slack: no installation")

type Installation struct {
	TeamID       string
	EnterpriseID string
	BotToken     string
}

// Resolver maps workspaces to clients built from a static installation table.
// Installations are keyed by enterprise and team, so the same team id under
// two enterprise grids resolves to two clients.
type Resolver struct {
	clients map[workspaceKey]*Client
}

type workspaceKey struct {
	enterprise string
	team       string
}

func NewResolver(insts []Installation, opts Options, log logx.Logger) (*Resolver, error) {
	r := &Resolver{clients: make(map[workspaceKey]*Client, len(insts))}
	for _, in := range insts {
		key := workspaceKey{enterprise: strings.TrimSpace(in.EnterpriseID), team: strings.TrimSpace(in.TeamID)}
		if key.team == "" {
			return nil, errors.New("slack installation without team id")
		}
		if strings.TrimSpace(in.BotToken) == "" {
			return nil, fmt.Errorf("slack installation %s has no bot token", key)
		}
		if _, dup := r.clients[key]; dup {
			return nil, fmt.Errorf("duplicate slack installation for %s", key)
		}
		r.clients[key] = NewClient(key.team, in.BotToken, opts, log)
	}
	return r, nil
}

func (k workspaceKey) String() string {
	if k.enterprise == "" {
		return "team " + k.team
	}
	return "team " + k.team + " in enterprise " + k.enterprise
}

// ForWorkspace returns the client installed for teamID under enterpriseID.
// An empty enterpriseID matches only installations without one.
func (r *Resolver) ForWorkspace(enterpriseID, teamID string) (*Client, error) {
	key := workspaceKey{enterprise: enterpriseID, team: teamID}
	c, ok := r.clients[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoInstallation, key)
	}
	return c, nil
}

func (r *Resolver) Len() int { return len(r.clients) }
