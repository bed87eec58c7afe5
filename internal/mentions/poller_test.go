package mentions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

type fakeTwitter struct {
	mu        sync.Mutex
	mentions  []models.Tweet
	lastSince string
	fetches   int
	tweets    map[string]*models.Tweet
}

func (f *fakeTwitter) Me(ctx context.Context) (string, string, error) {
	return "self-id", "selfhandle", nil
}

func (f *fakeTwitter) PostTweet(ctx context.Context, content, idemKey string) (*models.Tweet, error) {
	return nil, errors.New("not supported in this fake")
}

func (f *fakeTwitter) Reply(ctx context.Context, content, inReplyTo, idemKey string) (*models.Tweet, error) {
	return nil, errors.New("not supported in this fake")
}

func (f *fakeTwitter) Quote(ctx context.Context, content, quoteID, idemKey string) (*models.Tweet, error) {
	return nil, errors.New("not supported in this fake")
}

func (f *fakeTwitter) Like(ctx context.Context, tweetID string) error    { return nil }
func (f *fakeTwitter) Retweet(ctx context.Context, tweetID string) error { return nil }

func (f *fakeTwitter) GetTweet(ctx context.Context, tweetID string) (*models.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tweet, ok := f.tweets[tweetID]; ok {
		copied := *tweet
		return &copied, nil
	}
	return nil, errors.New("tweet not found")
}

func (f *fakeTwitter) MentionsSince(ctx context.Context, sinceID string) ([]models.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSince = sinceID
	f.fetches++
	return f.mentions, nil
}

type memCursors struct {
	mu   sync.Mutex
	vals map[string]string
	sets int
}

func newMemCursors() *memCursors {
	return &memCursors{vals: make(map[string]string)}
}

func (m *memCursors) GetMentionCursor(ctx context.Context, agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[agentID], nil
}

func (m *memCursors) SetMentionCursor(ctx context.Context, agentID, sinceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[agentID] = sinceID
	m.sets++
	return nil
}

func newTestPoller(t *testing.T, client *fakeTwitter, cursors *memCursors) (*Poller, *events.Engine) {
	t.Helper()
	engine := events.New(context.Background(), nil)
	t.Cleanup(engine.Stop)

	agent := &models.Agent{ID: "agent-a", Name: "Agent A"}
	p := NewPoller(agent, client, engine, cursors, gates.NewRateGate(), "cred-a")
	return p, engine
}

func waitForCount(t *testing.T, counter *atomic.Int32, want int32, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: got %d, want %d", msg, counter.Load(), want)
}

func TestIngestDiscardsCursorAndOlder(t *testing.T) {
	client := &fakeTwitter{}
	cursors := newMemCursors()
	p, engine := newTestPoller(t, client, cursors)
	p.sinceID = "100"

	var received atomic.Int32
	var gotID string
	var mu sync.Mutex
	engine.Subscribe(models.EventMentionReceived, "agent-a", func(ctx context.Context, event *models.Event) {
		mu.Lock()
		gotID = event.Mention.Tweet.ID
		mu.Unlock()
		received.Add(1)
	})

	p.Ingest(context.Background(), []models.Tweet{
		{ID: "100", Content: "the cursor tweet itself"},
		{ID: "99", Content: "older than the cursor"},
		{ID: "101", Content: "fresh"},
	})

	waitForCount(t, &received, 1, "exactly one fresh mention should be delivered")

	mu.Lock()
	defer mu.Unlock()
	if gotID != "101" {
		t.Errorf("expected the fresh mention, got tweet %s", gotID)
	}
	if p.sinceID != "101" {
		t.Errorf("cursor should advance to the highest seen id, got %s", p.sinceID)
	}
	if cursors.vals["agent-a"] != "101" {
		t.Errorf("cursor should be persisted, got %q", cursors.vals["agent-a"])
	}
}

func TestIngestCursorUntouchedWithoutFreshTweets(t *testing.T) {
	client := &fakeTwitter{}
	cursors := newMemCursors()
	p, _ := newTestPoller(t, client, cursors)
	p.sinceID = "200"

	p.Ingest(context.Background(), []models.Tweet{
		{ID: "200"},
		{ID: "150"},
	})

	if cursors.sets != 0 {
		t.Errorf("cursor must not be rewritten when nothing is fresh, saw %d writes", cursors.sets)
	}
	if p.sinceID != "200" {
		t.Errorf("cursor moved to %s", p.sinceID)
	}
}

func TestIngestDedupsAcrossBatches(t *testing.T) {
	client := &fakeTwitter{}
	p, engine := newTestPoller(t, client, newMemCursors())

	var received atomic.Int32
	engine.Subscribe(models.EventMentionReceived, "agent-a", func(ctx context.Context, event *models.Event) {
		received.Add(1)
	})

	batch := []models.Tweet{{ID: "300", Content: "hello"}}
	p.Ingest(context.Background(), batch)
	p.sinceID = "" // simulate a cursor loss; dedup still holds
	p.Ingest(context.Background(), batch)

	waitForCount(t, &received, 1, "a replayed mention must be handled once")
}

func TestRunLoadsPersistedCursor(t *testing.T) {
	client := &fakeTwitter{}
	cursors := newMemCursors()
	cursors.vals["agent-a"] = "42"
	p, _ := newTestPoller(t, client, cursors)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.lastSince != "42" {
		t.Errorf("fetch should start from the persisted cursor, got %q", client.lastSince)
	}
}

func TestRunSkipsFetchWhenBudgetExhausted(t *testing.T) {
	client := &fakeTwitter{}
	p, _ := newTestPoller(t, client, newMemCursors())

	// drain the mention-channel window for this credential
	for {
		if ok, _ := p.rateGate.Allow("cred-a", gates.ChannelMentions); !ok {
			break
		}
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("an exhausted budget is not an error: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.fetches != 0 {
		t.Error("poller must not call the API when the budget is gone")
	}
}

func TestResponseDelayRange(t *testing.T) {
	client := &fakeTwitter{}
	p, _ := newTestPoller(t, client, newMemCursors())
	p.agent.Behavior.MentionDelay = models.MentionDelay{MinSeconds: 2, MaxSeconds: 5}

	for i := 0; i < 50; i++ {
		d := p.responseDelay()
		if d < 2*time.Second || d > 5*time.Second {
			t.Fatalf("delay out of range: %s", d)
		}
	}
}

func TestPollerInterval(t *testing.T) {
	client := &fakeTwitter{}
	p, _ := newTestPoller(t, client, newMemCursors())

	if got := p.Interval(5 * time.Second); got != MinPollInterval {
		t.Errorf("intervals below the floor clamp to %s, got %s", MinPollInterval, got)
	}
	if got := p.Interval(5 * time.Minute); got != 5*time.Minute {
		t.Errorf("configured interval above the floor is kept, got %s", got)
	}
}

func TestIdAfter(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1", "", true},
		{"100", "99", true},  // longer wins
		{"99", "100", false},
		{"101", "100", true}, // same length, lexicographic
		{"100", "101", false},
		{"100", "100", false},
	}
	for _, tc := range cases {
		if got := idAfter(tc.a, tc.b); got != tc.want {
			t.Errorf("idAfter(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDedupEviction(t *testing.T) {
	d := newDedup(2)

	if d.MarkSeen("a") {
		t.Error("first sighting is not a duplicate")
	}
	if !d.MarkSeen("a") {
		t.Error("second sighting is a duplicate")
	}

	d.MarkSeen("b")
	d.MarkSeen("c") // evicts a

	if d.MarkSeen("a") {
		t.Error("evicted id should read as unseen again")
	}
}

func TestResolveThread(t *testing.T) {
	base := time.Now()
	client := &fakeTwitter{tweets: map[string]*models.Tweet{
		"root": {ID: "root", Content: "the original take", CreatedAt: base},
		"mid":  {ID: "mid", Content: "a reply in between", ReplyToID: "root", CreatedAt: base.Add(time.Minute)},
	}}

	mention := &models.Tweet{ID: "leaf", Content: "mentioning you", ReplyToID: "mid", CreatedAt: base.Add(2 * time.Minute)}
	thread := ResolveThread(context.Background(), client, mention)

	if len(thread) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(thread))
	}
	if thread[0].ID != "root" || thread[1].ID != "mid" {
		t.Errorf("ancestors should be chronological, got %s then %s", thread[0].ID, thread[1].ID)
	}
}

func TestResolveThreadSkipsMissingAncestors(t *testing.T) {
	client := &fakeTwitter{tweets: map[string]*models.Tweet{}}

	mention := &models.Tweet{ID: "leaf", ReplyToID: "deleted"}
	if thread := ResolveThread(context.Background(), client, mention); len(thread) != 0 {
		t.Errorf("deleted ancestors are skipped, got %d tweets", len(thread))
	}
}
