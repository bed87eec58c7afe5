package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/llm"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/twitter"
	"github.com/actuallyrizzn/puppet-engine/internal/content"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// fakeActionClient records outbound platform actions
type fakeActionClient struct {
	mu        sync.Mutex
	posts     []string
	replies   []string
	likes     []string
	retweets  []string
	failSends int // sends to fail with a transient error before succeeding
}

var _ twitter.Client = (*fakeActionClient)(nil)

func (f *fakeActionClient) Me(ctx context.Context) (string, string, error) {
	return "self-id", "selfbot", nil
}

func (f *fakeActionClient) PostTweet(ctx context.Context, text, idemKey string) (*models.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return nil, models.NewKindError(models.KindTransient, errors.New("send failed"))
	}
	f.posts = append(f.posts, text)
	return &models.Tweet{ID: fmt.Sprintf("post-%d", len(f.posts))}, nil
}

func (f *fakeActionClient) Reply(ctx context.Context, text, inReplyTo, idemKey string) (*models.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return nil, models.NewKindError(models.KindTransient, errors.New("send failed"))
	}
	f.replies = append(f.replies, text)
	return &models.Tweet{ID: fmt.Sprintf("reply-%d", len(f.replies)), ReplyToID: inReplyTo}, nil
}

func (f *fakeActionClient) Quote(ctx context.Context, text, quoteID, idemKey string) (*models.Tweet, error) {
	return &models.Tweet{ID: "quote-1", QuoteID: quoteID}, nil
}

func (f *fakeActionClient) Like(ctx context.Context, tweetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes = append(f.likes, tweetID)
	return nil
}

func (f *fakeActionClient) Retweet(ctx context.Context, tweetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retweets = append(f.retweets, tweetID)
	return nil
}

func (f *fakeActionClient) GetTweet(ctx context.Context, tweetID string) (*models.Tweet, error) {
	return &models.Tweet{ID: tweetID, Content: "a tweet"}, nil
}

func (f *fakeActionClient) MentionsSince(ctx context.Context, sinceID string) ([]models.Tweet, error) {
	return nil, nil
}

func runtimeAgent() *models.Agent {
	return &models.Agent{
		ID:          "runtime-agent",
		Name:        "Runtime Agent",
		Description: "a persona under test",
		LLMProvider: "fake",
		Behavior: models.Behavior{
			PostFrequency: models.PostFrequency{
				MinHoursBetweenPosts: 1,
				MaxHoursBetweenPosts: 2,
			},
		},
	}
}

func newTestRuntime(t *testing.T, agent *models.Agent, fake *llm.FakeProvider, client *fakeActionClient) *Runtime {
	t.Helper()

	registry := llm.NewRegistry()
	registry.Add(fake)

	ctx, cancel := context.WithCancel(context.Background())
	eventEngine := events.New(ctx, nil)

	r := NewRuntime(agent, RuntimeDeps{
		Pipeline: content.NewPipeline(registry),
		Engine:   eventEngine,
		Client:   client,
		RateGate: gates.NewRateGate(),
		Cadence:  gates.NewCadenceGate(),
		CredKey:  "cred-" + agent.ID,
	})
	t.Cleanup(func() {
		r.memory.Close()
		eventEngine.Stop()
		cancel()
	})
	return r
}

func failureMemories(r *Runtime) []*models.MemoryItem {
	var out []*models.MemoryItem
	for _, item := range r.memory.All() {
		if strings.Contains(item.Content, "it failed") {
			out = append(out, item)
		}
	}
	return out
}

func TestComposeAndPostRecordsGenerationFailure(t *testing.T) {
	fake := llm.NewFakeProvider()
	fake.FailNext(10)
	client := &fakeActionClient{}
	r := newTestRuntime(t, runtimeAgent(), fake, client)

	r.composeAndPost(context.Background(), "", false)

	if fake.Calls() != 3 {
		t.Errorf("generation retries are bounded, got %d calls", fake.Calls())
	}
	if len(client.posts) != 0 {
		t.Error("nothing may be published after generation fails")
	}
	failures := failureMemories(r)
	if len(failures) != 1 {
		t.Fatalf("an abandoned post leaves exactly one failure memory, got %d", len(failures))
	}
	if failures[0].Kind != models.MemoryEvent {
		t.Errorf("failure memories are events, got %s", failures[0].Kind)
	}
}

func TestComposeAndPostRecordsPublishFailureAndCools(t *testing.T) {
	fake := llm.NewFakeProvider("a perfectly fine post")
	client := &fakeActionClient{failSends: 5} // both the send and its retry fail
	r := newTestRuntime(t, runtimeAgent(), fake, client)

	r.composeAndPost(context.Background(), "", false)

	if len(client.posts) != 0 {
		t.Error("no post should land when the platform keeps failing")
	}
	if failures := failureMemories(r); len(failures) != 1 {
		t.Fatalf("a failed send leaves exactly one failure memory, got %d", len(failures))
	}

	r.mu.Lock()
	cooling := time.Now().Before(r.coolUntil)
	state := r.state
	r.mu.Unlock()
	if !cooling || state != models.StateCooling {
		t.Errorf("a failed send opens a cooling window, got state %s cooling=%v", state, cooling)
	}
}

func TestComposeAndPostDenialCools(t *testing.T) {
	fake := llm.NewFakeProvider("never used")
	client := &fakeActionClient{}
	r := newTestRuntime(t, runtimeAgent(), fake, client)

	// a recent post makes the cadence gate deny the next one
	r.cadence.Record(r.agent.ID)

	r.composeAndPost(context.Background(), "", false)

	if fake.Calls() != 0 {
		t.Error("a denied post must not spend model calls")
	}
	if len(client.posts) != 0 {
		t.Error("a denied post must not publish")
	}

	r.mu.Lock()
	cooling := time.Now().Before(r.coolUntil)
	state := r.state
	r.mu.Unlock()
	if !cooling || state != models.StateCooling {
		t.Errorf("gate denial transitions to cooling, got state %s cooling=%v", state, cooling)
	}
}

func TestPostBudgetDenialCools(t *testing.T) {
	fake := llm.NewFakeProvider("never used")
	client := &fakeActionClient{}
	r := newTestRuntime(t, runtimeAgent(), fake, client)

	// drain the posting budget's per-minute floor
	for {
		if ok, _ := r.rateGate.Allow(r.credKey, gates.ChannelPost); !ok {
			break
		}
	}

	r.composeAndPost(context.Background(), "", false)

	if fake.Calls() != 0 {
		t.Error("budget exhaustion must not spend model calls")
	}
	r.mu.Lock()
	cooling := time.Now().Before(r.coolUntil)
	r.mu.Unlock()
	if !cooling {
		t.Error("budget exhaustion opens a cooling window")
	}
}

func mentionEvent(tweet models.Tweet) *models.Event {
	return &models.Event{
		Type:    models.EventMentionReceived,
		Mention: &models.MentionPayload{Tweet: tweet},
	}
}

func TestMentionSampledOutSkipsModel(t *testing.T) {
	agent := runtimeAgent()
	agent.Behavior.Interactions = models.InteractionPatterns{ReplyProbability: 0, LikeProbability: 0}

	fake := llm.NewFakeProvider()
	client := &fakeActionClient{}
	r := newTestRuntime(t, agent, fake, client)

	r.handleMention(context.Background(), mentionEvent(models.Tweet{
		ID: "m1", Content: "@runtimeagent hello", AuthorID: "900", AuthorName: "alice",
	}))

	if fake.Calls() != 0 {
		t.Errorf("a passed-over mention must not reach the model, got %d calls", fake.Calls())
	}
	if len(client.replies) != 0 || len(client.likes) != 0 || len(client.retweets) != 0 {
		t.Error("a passed-over mention takes no outbound action")
	}
}

func TestMentionSampledOutMayStillLike(t *testing.T) {
	agent := runtimeAgent()
	agent.Behavior.Interactions = models.InteractionPatterns{ReplyProbability: 0, LikeProbability: 1}

	fake := llm.NewFakeProvider()
	client := &fakeActionClient{}
	r := newTestRuntime(t, agent, fake, client)

	r.handleMention(context.Background(), mentionEvent(models.Tweet{
		ID: "m2", Content: "@runtimeagent nice one", AuthorID: "900", AuthorName: "alice",
	}))

	if fake.Calls() != 0 {
		t.Errorf("the like path spends no model calls, got %d", fake.Calls())
	}
	if len(client.likes) != 1 || client.likes[0] != "m2" {
		t.Errorf("expected exactly one like of the mention, got %v", client.likes)
	}
	if len(client.replies) != 0 {
		t.Error("a sampled-out mention never gets a reply")
	}
}

func TestMentionSampledInEngages(t *testing.T) {
	agent := runtimeAgent()
	agent.Behavior.Interactions = models.InteractionPatterns{ReplyProbability: 1}

	fake := llm.NewFakeProvider(
		`{"reply": true, "like": false, "retweet": false, "quote": false, "mood_shift": {}}`,
		"glad you asked",
	)
	client := &fakeActionClient{}
	r := newTestRuntime(t, agent, fake, client)

	r.handleMention(context.Background(), mentionEvent(models.Tweet{
		ID: "m3", Content: "@runtimeagent what are you building", AuthorID: "900", AuthorName: "alice",
	}))

	if len(client.replies) != 1 || client.replies[0] != "glad you asked" {
		t.Fatalf("expected the scripted reply, got %v", client.replies)
	}
	if fake.Calls() < 2 {
		t.Errorf("engagement shapes the reaction through the model, got %d calls", fake.Calls())
	}
}

func TestReplyFailureRecordsMemory(t *testing.T) {
	fake := llm.NewFakeProvider()
	fake.FailNext(10)
	client := &fakeActionClient{}
	r := newTestRuntime(t, runtimeAgent(), fake, client)

	mention := &models.Tweet{ID: "m4", Content: "hey", AuthorName: "alice"}
	if text := r.sendReply(context.Background(), r.Snapshot(), mention); text != "" {
		t.Errorf("a failed reply returns no text, got %q", text)
	}

	if failures := failureMemories(r); len(failures) != 1 {
		t.Fatalf("an abandoned reply leaves exactly one failure memory, got %d", len(failures))
	}
	if len(client.replies) != 0 {
		t.Error("nothing may be published after reply generation fails")
	}
}
