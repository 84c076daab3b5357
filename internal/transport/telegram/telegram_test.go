package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/geoffrothman/smores/pkg/logx"
)

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split = %q", got)
	}

	lines := strings.Repeat("abcdefghi\n", 5) // 50 runes
	got := splitText(lines, 25)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %q", got)
	}
	for _, c := range got {
		if len([]rune(c)) > 25 {
			t.Fatalf("chunk too long: %q", c)
		}
		if strings.HasSuffix(c, "\n") || strings.HasPrefix(c, "\n") {
			t.Fatalf("chunk not trimmed: %q", c)
		}
	}
	if strings.Join(got, "\n") != strings.TrimRight(lines, "\n") {
		t.Fatalf("chunks lost content: %q", got)
	}

	noBreaks := strings.Repeat("x", 30)
	got = splitText(noBreaks, 25)
	if len(got) != 2 || got[0] != strings.Repeat("x", 25) {
		t.Fatalf("hard split = %q", got)
	}
}

func TestSendOps(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		texts = append(texts, body["text"].(string))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", ChatID: -100, APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendOps(context.Background(), "pairing pass: 3 channels, 1 failure"); err != nil {
		t.Fatalf("SendOps: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "pairing pass: 3 channels, 1 failure" {
		t.Fatalf("sent = %q", texts)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := New(Config{Token: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected chat id error")
	}
}
