// Package slack adapts the Slack Web API to the delivery and membership
// interfaces: opening group conversations, posting messages, listing channel
// members and identifying the bot's own user.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/geoffrothman/smores/internal/delivery"
	"github.com/geoffrothman/smores/pkg/logx"
)

// MemberPageLimit is the page size used when listing channel members.
const MemberPageLimit = 200

type Options struct {
	APIURL  string // must end with '/'; empty means slack.com
	Timeout time.Duration
}

// Client talks to one workspace installation.
type Client struct {
	api    *slackapi.Client
	teamID string
	log    logx.Logger

	botMu  sync.Mutex
	botUID string
}

func NewClient(teamID, token string, opts Options, log logx.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	o := []slackapi.Option{slackapi.OptionHTTPClient(&http.Client{Timeout: opts.Timeout})}
	if opts.APIURL != "" {
		u := opts.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		o = append(o, slackapi.OptionAPIURL(u))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		api:    slackapi.New(token, o...),
		teamID: teamID,
		log:    log.With(logx.String("comp", "slack"), logx.String("team", teamID)),
	}
}

func (c *Client) TeamID() string { return c.teamID }

// OpenConversation opens (or reuses) a multi-person DM with members.
func (c *Client) OpenConversation(ctx context.Context, members []string) (string, error) {
	ch, _, _, err := c.api.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
		Users:    members,
		ReturnIM: true,
	})
	if err != nil {
		return "", classify(err)
	}
	if ch == nil || ch.ID == "" {
		return "", fmt.Errorf("conversations.open returned no channel: %w", delivery.ErrTransient)
	}
	return ch.ID, nil
}

// SendMessage posts plain text into a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, conversationID, slackapi.MsgOptionText(text, false))
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListMembers returns one page of channel members and the next cursor ("" at
// the end).
func (c *Client) ListMembers(ctx context.Context, channelID, cursor string) ([]string, string, error) {
	ids, next, err := c.api.GetUsersInConversationContext(ctx, &slackapi.GetUsersInConversationParameters{
		ChannelID: channelID,
		Cursor:    cursor,
		Limit:     MemberPageLimit,
	})
	if err != nil {
		return nil, "", classify(err)
	}
	return ids, next, nil
}

// BotUserID returns the installation's own user id, resolved once via
// auth.test.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.botMu.Lock()
	defer c.botMu.Unlock()
	if c.botUID != "" {
		return c.botUID, nil
	}
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", classify(err)
	}
	c.botUID = resp.UserID
	c.log.Debug("resolved bot user", logx.String("user", resp.UserID))
	return c.botUID, nil
}

var permissionCodes = map[string]struct{}{
	"not_in_channel":          {},
	"channel_not_found":       {},
	"missing_scope":           {},
	"not_authed":              {},
	"invalid_auth":            {},
	"account_inactive":        {},
	"token_revoked":           {},
	"cannot_dm_bot":           {},
	"user_disabled":           {},
	"user_not_found":          {},
	"restricted_action":       {},
	"is_archived":             {},
	"team_access_not_granted": {},
}

// classify wraps err with delivery.ErrPermission or delivery.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rl *slackapi.RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: %v", delivery.ErrTransient, err)
	}
	var sc slackapi.StatusCodeError
	if errors.As(err, &sc) {
		if sc.Code == http.StatusForbidden || sc.Code == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", delivery.ErrPermission, err)
		}
		return fmt.Errorf("%w: %v", delivery.ErrTransient, err)
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", delivery.ErrTransient, err)
	}

	code := err.Error()
	var se slackapi.SlackErrorResponse
	if errors.As(err, &se) {
		code = se.Err
	}
	if _, ok := permissionCodes[code]; ok {
		return fmt.Errorf("%w: %s", delivery.ErrPermission, code)
	}
	return fmt.Errorf("%w: %v", delivery.ErrTransient, err)
}
