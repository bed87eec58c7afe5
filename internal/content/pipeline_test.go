package content

import (
	"context"
	"strings"
	"testing"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/llm"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

func testAgent() *models.Agent {
	return &models.Agent{
		ID:          "poster",
		Name:        "Poster",
		Description: "a test persona",
		LLMProvider: "fake",
	}
}

func newTestPipeline(fake *llm.FakeProvider) *Pipeline {
	registry := llm.NewRegistry()
	registry.Add(fake)
	return NewPipeline(registry)
}

func TestComposePostUsesScriptedResponse(t *testing.T) {
	fake := llm.NewFakeProvider("hello from the other side")
	p := newTestPipeline(fake)

	result, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, "")
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if result.Text != "hello from the other side" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Fallback {
		t.Error("clean output must not be marked fallback")
	}
	if result.Provider != "fake" {
		t.Errorf("unexpected provider: %q", result.Provider)
	}
}

func TestComposePostRemediatesMetaConfusion(t *testing.T) {
	fake := llm.NewFakeProvider(
		"What tweet are you referring to?",
		"shipping something small today",
	)
	p := newTestPipeline(fake)

	result, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, "")
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if result.Text != "shipping something small today" {
		t.Errorf("remediated text expected, got %q", result.Text)
	}
	if result.Fallback {
		t.Error("successful remediation must not publish a fallback")
	}
	if fake.Calls() != 2 {
		t.Errorf("expected one remediation call, got %d total calls", fake.Calls())
	}
}

func TestComposePostFallsBackWhenRemediationFails(t *testing.T) {
	fake := llm.NewFakeProvider(
		"I don't see any tweet in the context.",
		"Which tweet do you mean? As an AI I need more context.",
	)
	p := newTestPipeline(fake)

	result, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, "")
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	if !result.Fallback {
		t.Fatal("expected a fallback result")
	}

	known := false
	for _, line := range fallbackLines {
		if result.Text == line {
			known = true
		}
	}
	if !known {
		t.Errorf("fallback text must come from the canned set, got %q", result.Text)
	}
}

func TestComposePostRetriesTransientFailure(t *testing.T) {
	fake := llm.NewFakeProvider("recovered after a hiccup")
	fake.FailNext(1)
	p := newTestPipeline(fake)

	result, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, "")
	if err != nil {
		t.Fatalf("one transient failure should be retried: %v", err)
	}
	if result.Text != "recovered after a hiccup" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if fake.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", fake.Calls())
	}
}

func TestComposePostErrorsAfterRetryBudget(t *testing.T) {
	fake := llm.NewFakeProvider()
	fake.FailNext(maxAttempts)
	p := newTestPipeline(fake)

	if _, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, ""); err == nil {
		t.Fatal("exhausted retries must surface an error")
	}
	if fake.Calls() != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, fake.Calls())
	}
}

func TestOpenerVarietyResamples(t *testing.T) {
	fake := llm.NewFakeProvider(
		"gm everyone once again, morning thoughts",
		"a completely different start this time",
	)
	p := newTestPipeline(fake)
	agent := testAgent()

	p.recordOpener(agent.ID, "gm everyone once again, earlier post")

	result, err := p.ComposePost(context.Background(), agent, Snapshot{}, "")
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if result.Text != "a completely different start this time" {
		t.Errorf("repeated opener should be resampled, got %q", result.Text)
	}
}

func TestOpenerVarietyAcceptsAfterBudget(t *testing.T) {
	repeated := "gm everyone once again, still the same"
	fake := llm.NewFakeProvider(repeated, repeated, repeated, repeated)
	p := newTestPipeline(fake)
	agent := testAgent()

	p.recordOpener(agent.ID, "gm everyone once again, earlier post")

	result, err := p.ComposePost(context.Background(), agent, Snapshot{}, "")
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if result.Text != repeated {
		t.Errorf("after the resample budget the text is accepted, got %q", result.Text)
	}
	if fake.Calls() != 1+openerResamples {
		t.Errorf("expected %d calls, got %d", 1+openerResamples, fake.Calls())
	}
}

func TestComposeSamplesOpeningStyle(t *testing.T) {
	t.Run("self post", func(t *testing.T) {
		fake := llm.NewFakeProvider("something to say")
		p := newTestPipeline(fake)

		result, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, "")
		if err != nil {
			t.Fatalf("compose failed: %v", err)
		}

		known := false
		for _, style := range openingStyles {
			if result.Opening == style {
				known = true
			}
		}
		if !known {
			t.Fatalf("opening must come from the style set, got %q", result.Opening)
		}
		if instr := fake.Instructions()[0]; !strings.Contains(instr, result.Opening) {
			t.Errorf("instruction should carry the sampled opening %q:\n%s", result.Opening, instr)
		}
	})

	t.Run("reply", func(t *testing.T) {
		fake := llm.NewFakeProvider("a reply")
		p := newTestPipeline(fake)

		mention := &models.Tweet{ID: "1", Content: "hey", AuthorName: "alice"}
		result, err := p.ComposeReply(context.Background(), testAgent(), Snapshot{}, mention)
		if err != nil {
			t.Fatalf("compose failed: %v", err)
		}
		if result.Opening == "" {
			t.Error("replies sample an opening style too")
		}
	})

	t.Run("independent of constraint injection", func(t *testing.T) {
		// every compose gets an opening, most get no constraint
		fake := llm.NewFakeProvider()
		p := newTestPipeline(fake)

		sawConstraintless := false
		for i := 0; i < 20; i++ {
			result, err := p.ComposePost(context.Background(), testAgent(), Snapshot{}, "")
			if err != nil {
				t.Fatalf("compose failed: %v", err)
			}
			if result.Opening == "" {
				t.Fatal("an opening style must be sampled on every compose")
			}
			if result.Constraint == "" {
				sawConstraintless = true
			}
		}
		if !sawConstraintless {
			t.Error("constraints stay occasional, openings are not tied to them")
		}
	})
}

func TestPromptsNeverCarryNumericAuthorIDs(t *testing.T) {
	fake := llm.NewFakeProvider("a reply")
	p := newTestPipeline(fake)

	mention := &models.Tweet{ID: "1", Content: "who are you", AuthorID: "1234567890"}
	if _, err := p.ComposeReply(context.Background(), testAgent(), Snapshot{}, mention); err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	instr := fake.Instructions()[0]
	if strings.Contains(instr, "1234567890") {
		t.Errorf("raw author id leaked into the prompt:\n%s", instr)
	}
	if !strings.Contains(instr, "@someone") {
		t.Errorf("unknown handles read as a placeholder, got:\n%s", instr)
	}
}

func TestExtractReaction(t *testing.T) {
	fake := llm.NewFakeProvider("Sure, here is my decision:\n```json\n" +
		`{"reply": true, "like": true, "retweet": false, "quote": false, "mood_shift": {"valence_shift": 0.2}}` +
		"\n```")
	p := newTestPipeline(fake)

	mention := &models.Tweet{ID: "1", Content: "hey, saw your post", AuthorID: "u1", AuthorName: "alice"}
	decision, err := p.ExtractReaction(context.Background(), testAgent(), Snapshot{}, mention)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if !decision.Reply || !decision.Like || decision.Retweet || decision.Quote {
		t.Errorf("unexpected decision: %+v", decision)
	}
	if decision.MoodShift.Valence != 0.2 {
		t.Errorf("expected valence shift 0.2, got %f", decision.MoodShift.Valence)
	}
}

func TestExtractReactionRejectsNonJSON(t *testing.T) {
	fake := llm.NewFakeProvider("no structured output here at all")
	p := newTestPipeline(fake)

	mention := &models.Tweet{ID: "1", Content: "hey", AuthorID: "u1"}
	_, err := p.ExtractReaction(context.Background(), testAgent(), Snapshot{}, mention)
	if err == nil {
		t.Fatal("prose output must fail extraction")
	}
	if models.KindOf(err) != models.KindContent {
		t.Errorf("extraction failures are content errors, got %s", models.KindOf(err))
	}
}

func TestIsMetaConfused(t *testing.T) {
	confused := []string{
		"",
		"What tweet are you referring to?",
		"Which post do you mean exactly",
		"I'm sorry, but as an AI I cannot do that.",
		"I am a language model and cannot post.",
		"Could you please provide the tweet you want me to react to?",
		"You haven't provided any context for this.",
		"No tweet was provided in the conversation.",
	}
	for _, text := range confused {
		if !IsMetaConfused(text) {
			t.Errorf("should flag as confused: %q", text)
		}
	}

	clean := []string{
		"just shipped the thing. feels good.",
		"anyone else refuse to open email before coffee",
		"the AI discourse today is exhausting",
		"posting through it",
	}
	for _, text := range clean {
		if IsMetaConfused(text) {
			t.Errorf("should not flag: %q", text)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Run("strips control characters", func(t *testing.T) {
		if got := Normalize("a\x00b\x07c"); got != "abc" {
			t.Errorf("control chars should be stripped, got %q", got)
		}
	})

	t.Run("keeps newlines and tabs", func(t *testing.T) {
		if got := Normalize("line one\nline\ttwo"); got != "line one\nline\ttwo" {
			t.Errorf("whitespace structure should survive, got %q", got)
		}
	})

	t.Run("short text unchanged", func(t *testing.T) {
		if got := Normalize("  hello  "); got != "hello" {
			t.Errorf("expected trimmed text, got %q", got)
		}
	})

	t.Run("truncates long text at a word boundary", func(t *testing.T) {
		long := strings.TrimSpace(strings.Repeat("word ", 70))
		got := Normalize(long)
		if len([]rune(got)) > MaxPostLength {
			t.Fatalf("text exceeds the platform limit: %d runes", len([]rune(got)))
		}
		for _, w := range strings.Fields(got) {
			if w != "word" {
				t.Fatalf("truncation split a word: %q", w)
			}
		}
	})
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"prose around", `Sure! {"a": 1} hope that helps`, `{"a": 1}`},
		{"code fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"nested objects", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"braces inside strings", `{"a": "}{"}`, `{"a": "}{"}`},
		{"escaped quote in string", `{"a": "say \"hi\" {now}"}`, `{"a": "say \"hi\" {now}"}`},
		{"no object", "nothing here", ""},
		{"unbalanced", `{"a": 1`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSONObject(tc.raw); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
