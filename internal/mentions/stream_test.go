package mentions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

type streamFixture struct {
	srv       *httptest.Server
	mu        sync.Mutex
	ruleAdds  []string
	rules     string // JSON served for rule listings
	ruleCode  int
	lines     []string // stream body lines
	streamHit atomic.Int32
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	f := &streamFixture{rules: `{"data":[]}`, ruleCode: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/rules", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.ruleCode != http.StatusOK {
			w.WriteHeader(f.ruleCode)
			return
		}
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			f.ruleAdds = append(f.ruleAdds, string(body))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(f.rules))
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		f.streamHit.Add(1)
		f.mu.Lock()
		lines := append([]string(nil), f.lines...)
		f.mu.Unlock()
		for _, line := range lines {
			io.WriteString(w, line+"\n")
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestStream(t *testing.T, f *streamFixture) (*Stream, *events.Engine) {
	t.Helper()
	p, engine := newTestPoller(t, &fakeTwitter{}, newMemCursors())

	s := NewStream("bearer", "selfhandle", p)
	s.streamURL = f.srv.URL + "/stream"
	s.rulesURL = f.srv.URL + "/rules"
	return s, engine
}

func streamLine(t *testing.T, id, text, authorID, username string) string {
	t.Helper()
	line, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":         id,
			"text":       text,
			"author_id":  authorID,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
		"includes": map[string]any{
			"users": []map[string]string{{"id": authorID, "username": username}},
		},
	})
	if err != nil {
		t.Fatalf("failed to build stream line: %v", err)
	}
	return string(line)
}

func TestStreamInstallsHandleRule(t *testing.T) {
	f := newStreamFixture(t)
	f.lines = []string{
		streamLine(t, "501", "hey @selfhandle what do you think", "77", "carol"),
		streamLine(t, "502", "unrelated chatter", "78", "dave"),
	}
	s, engine := newTestStream(t, f)

	var received atomic.Int32
	engine.Subscribe(models.EventMentionReceived, "agent-a", func(ctx context.Context, event *models.Event) {
		received.Add(1)
	})

	connected, err := s.consume(context.Background())
	if !connected {
		t.Fatalf("stream should connect: %v", err)
	}

	f.mu.Lock()
	adds := append([]string(nil), f.ruleAdds...)
	f.mu.Unlock()
	if len(adds) != 1 {
		t.Fatalf("expected one rule install, got %d", len(adds))
	}
	if !strings.Contains(adds[0], `"@selfhandle"`) {
		t.Errorf("installed rule must match the handle, got %s", adds[0])
	}

	waitForCount(t, &received, 1, "only the line mentioning the handle is delivered")
}

func TestStreamSkipsInstallWhenRulePresent(t *testing.T) {
	f := newStreamFixture(t)
	f.rules = `{"data":[{"id":"1","value":"@selfhandle"}]}`
	s, _ := newTestStream(t, f)

	if _, err := s.consume(context.Background()); err == nil {
		t.Fatal("an empty stream ends with a disconnect error")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ruleAdds) != 0 {
		t.Errorf("an existing rule must not be reinstalled, got %v", f.ruleAdds)
	}
}

func TestStreamFallsBackWhenRulesForbidden(t *testing.T) {
	f := newStreamFixture(t)
	f.ruleCode = http.StatusForbidden
	s, _ := newTestStream(t, f)

	if _, err := s.consume(context.Background()); !errors.Is(err, ErrStreamForbidden) {
		t.Fatalf("a credential without rule access cannot stream, got %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrStreamForbidden) {
		t.Fatalf("Run surfaces the fallback signal, got %v", err)
	}
	if f.streamHit.Load() != 0 {
		t.Error("the stream endpoint is never touched without a rule in place")
	}
}

func TestStreamBackoffDoubles(t *testing.T) {
	steps := []time.Duration{
		nextBackoff(streamBackoff),
		nextBackoff(nextBackoff(streamBackoff)),
		nextBackoff(streamBackoffMax),
		nextBackoff(rateLimitBackoff),
	}
	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		60 * time.Second, // capped
		60 * time.Second, // rate-limit delay stays at the cap
	}
	for i := range steps {
		if steps[i] != want[i] {
			t.Errorf("step %d: got %s, want %s", i, steps[i], want[i])
		}
	}
}
