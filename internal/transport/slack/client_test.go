package slack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/geoffrothman/smores/internal/delivery"
	"github.com/geoffrothman/smores/pkg/logx"
)

type fakeSlack struct {
	mu       sync.Mutex
	calls    map[string]int
	forms    map[string][]string
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeSlack(t *testing.T) (*fakeSlack, *Client) {
	t.Helper()
	f := &fakeSlack{calls: map[string]int{}, forms: map[string][]string{}, handlers: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		_ = r.ParseForm()
		f.mu.Lock()
		f.calls[method]++
		f.forms[method] = append(f.forms[method], r.Form.Encode())
		h := f.handlers[method]
		f.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, NewClient("T1", "xoxb-test", Options{APIURL: srv.URL}, logx.Nop())
}

func (f *fakeSlack) form(method string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.forms[method]) {
		return ""
	}
	return f.forms[method][i]
}

func (f *fakeSlack) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeSlack) handle(method string, h func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeSlack) on(method, body string) {
	f.handle(method, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestOpenConversationAndSend(t *testing.T) {
	f, c := newFakeSlack(t)
	f.on("conversations.open", `{"ok":true,"channel":{"id":"G123"}}`)
	f.on("chat.postMessage", `{"ok":true,"channel":"G123","ts":"1700000000.000100"}`)

	conv, err := c.OpenConversation(context.Background(), []string{"U1", "U2"})
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if conv != "G123" {
		t.Fatalf("conv = %q", conv)
	}
	if err := c.SendMessage(context.Background(), conv, delivery.ReminderText); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !strings.Contains(f.form("conversations.open", 0), "users=U1%2CU2") {
		t.Fatalf("open form = %s", f.form("conversations.open", 0))
	}
	if !strings.Contains(f.form("chat.postMessage", 0), "channel=G123") {
		t.Fatalf("post form = %s", f.form("chat.postMessage", 0))
	}
}

func TestErrorsAreClassified(t *testing.T) {
	f, c := newFakeSlack(t)
	f.on("conversations.open", `{"ok":false,"error":"missing_scope"}`)
	f.on("chat.postMessage", `{"ok":false,"error":"internal_error"}`)

	_, err := c.OpenConversation(context.Background(), []string{"U1", "U2"})
	if !errors.Is(err, delivery.ErrPermission) {
		t.Fatalf("open err = %v, want ErrPermission", err)
	}
	err = c.SendMessage(context.Background(), "G1", "hi")
	if !errors.Is(err, delivery.ErrTransient) {
		t.Fatalf("send err = %v, want ErrTransient", err)
	}
}

func TestRateLimitIsTransient(t *testing.T) {
	f, c := newFakeSlack(t)
	f.handle("chat.postMessage", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := c.SendMessage(context.Background(), "G1", "hi")
	if !errors.Is(err, delivery.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestListMembersPaginates(t *testing.T) {
	f, c := newFakeSlack(t)
	f.handle("conversations.members", func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"ok":true,"members":["U1","U2"],"response_metadata":{"next_cursor":"page2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"members":["U3"],"response_metadata":{"next_cursor":""}}`))
	})

	ids, next, err := c.ListMembers(context.Background(), "C1", "")
	if err != nil || len(ids) != 2 || next != "page2" {
		t.Fatalf("page 1 = %v %q %v", ids, next, err)
	}
	if !strings.Contains(f.form("conversations.members", 0), "limit=200") {
		t.Fatalf("limit not sent: %s", f.form("conversations.members", 0))
	}
	ids, next, err = c.ListMembers(context.Background(), "C1", next)
	if err != nil || len(ids) != 1 || next != "" {
		t.Fatalf("page 2 = %v %q %v", ids, next, err)
	}
}

func TestBotUserIDCached(t *testing.T) {
	f, c := newFakeSlack(t)
	f.on("auth.test", `{"ok":true,"user_id":"UBOT","team_id":"T1"}`)

	for i := 0; i < 3; i++ {
		id, err := c.BotUserID(context.Background())
		if err != nil || id != "UBOT" {
			t.Fatalf("BotUserID = %q, %v", id, err)
		}
	}
	if n := f.count("auth.test"); n != 1 {
		t.Fatalf("auth.test called %d times", n)
	}
}

func TestResolver(t *testing.T) {
	r, err := NewResolver([]Installation{{TeamID: "T1", BotToken: "a"}, {TeamID: "T2", BotToken: "b"}}, Options{}, logx.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	c, err := r.ForWorkspace("", "T2")
	if err != nil || c.TeamID() != "T2" {
		t.Fatalf("ForWorkspace(T2) = %v, %v", c, err)
	}
	if _, err := r.ForWorkspace("", "T9"); !errors.Is(err, ErrNoInstallation) {
		t.Fatalf("ForWorkspace(T9) err = %v", err)
	}
	if _, err := NewResolver([]Installation{{TeamID: "T1"}}, Options{}, logx.Nop()); err == nil {
		t.Fatalf("expected missing token error")
	}
	if _, err := NewResolver([]Installation{{TeamID: "T1", BotToken: "a"}, {TeamID: "T1", BotToken: "b"}}, Options{}, logx.Nop()); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestResolverKeysByEnterpriseAndTeam(t *testing.T) {
	r, err := NewResolver([]Installation{
		{EnterpriseID: "E1", TeamID: "T1", BotToken: "e1"},
		{EnterpriseID: "E2", TeamID: "T1", BotToken: "e2"},
	}, Options{}, logx.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	c1, err := r.ForWorkspace("E1", "T1")
	if err != nil {
		t.Fatalf("ForWorkspace(E1, T1): %v", err)
	}
	c2, err := r.ForWorkspace("E2", "T1")
	if err != nil {
		t.Fatalf("ForWorkspace(E2, T1): %v", err)
	}
	if c1 == c2 {
		t.Fatalf("same team under two enterprises shares a client")
	}
	if _, err := r.ForWorkspace("E3", "T1"); !errors.Is(err, ErrNoInstallation) {
		t.Fatalf("unknown enterprise err = %v", err)
	}
	if _, err := r.ForWorkspace("", "T1"); !errors.Is(err, ErrNoInstallation) {
		t.Fatalf("missing enterprise err = %v", err)
	}
	if _, err := NewResolver([]Installation{
		{EnterpriseID: "E1", TeamID: "T1", BotToken: "a"},
		{EnterpriseID: "E1", TeamID: "T1", BotToken: "b"},
	}, Options{}, logx.Nop()); err == nil {
		t.Fatalf("expected duplicate error")
	}
}
