package gates

import (
	"testing"
	"time"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

func TestCadenceGate(t *testing.T) {
	g := NewCadenceGate()
	clock := time.Now()
	g.now = func() time.Time { return clock }

	minBetween := 2 * time.Hour

	t.Run("first post allowed", func(t *testing.T) {
		if err := g.Allow("agent-a", minBetween, false); err != nil {
			t.Fatalf("first post should be allowed: %v", err)
		}
	})

	t.Run("too soon after recording", func(t *testing.T) {
		g.Record("agent-a")
		clock = clock.Add(30 * time.Minute)

		err := g.Allow("agent-a", minBetween, false)
		denial := DenialOf(err)
		if denial == nil {
			t.Fatalf("expected a denial, got %v", err)
		}
		if denial.Reason != models.DenialTooSoon {
			t.Errorf("expected too_soon, got %s", denial.Reason)
		}
		if denial.RetryAfter != 90*time.Minute {
			t.Errorf("expected retry after 90m, got %s", denial.RetryAfter)
		}
	})

	t.Run("force bypasses cadence", func(t *testing.T) {
		if err := g.Allow("agent-a", minBetween, true); err != nil {
			t.Errorf("force should bypass cadence: %v", err)
		}
	})

	t.Run("allowed once spacing elapses", func(t *testing.T) {
		clock = clock.Add(2 * time.Hour)
		if err := g.Allow("agent-a", minBetween, false); err != nil {
			t.Errorf("post should be allowed after spacing: %v", err)
		}
	})

	t.Run("agents are independent", func(t *testing.T) {
		if err := g.Allow("agent-b", minBetween, false); err != nil {
			t.Errorf("another agent should not be blocked: %v", err)
		}
	})
}

func TestDenialKind(t *testing.T) {
	err := Deny(models.DenialTooSoon, time.Minute, "spacing")

	if kind := models.KindOf(err); kind != models.KindGateDenied {
		t.Errorf("denials must carry the gate_denied kind, got %s", kind)
	}
	if DenialOf(err) == nil {
		t.Error("DenialOf should unwrap the denial")
	}
}

func TestIdempotencyKey(t *testing.T) {
	digest := ContextDigest("post", "hello world")

	t.Run("stable for identical inputs", func(t *testing.T) {
		a := IdempotencyKey("agent-a", "post", digest, 7)
		b := IdempotencyKey("agent-a", "post", digest, 7)
		if a != b {
			t.Error("identical inputs must produce the same key")
		}
	})

	t.Run("differs per component", func(t *testing.T) {
		base := IdempotencyKey("agent-a", "post", digest, 7)
		cases := map[string]string{
			"agent":    IdempotencyKey("agent-b", "post", digest, 7),
			"kind":     IdempotencyKey("agent-a", "reply", digest, 7),
			"digest":   IdempotencyKey("agent-a", "post", ContextDigest("other"), 7),
			"sequence": IdempotencyKey("agent-a", "post", digest, 8),
		}
		for name, key := range cases {
			if key == base {
				t.Errorf("changing %s must change the key", name)
			}
		}
	})

	t.Run("separator is unambiguous", func(t *testing.T) {
		// "ab"+"c" and "a"+"bc" must not collide
		a := IdempotencyKey("ab", "c", digest, 1)
		b := IdempotencyKey("a", "bc", digest, 1)
		if a == b {
			t.Error("concatenation must not be ambiguous across fields")
		}
	})
}

func TestContextDigest(t *testing.T) {
	if ContextDigest("a", "b") == ContextDigest("ab") {
		t.Error("digest must separate parts")
	}
	if len(ContextDigest("x")) != 32 {
		t.Errorf("digest should be 16 bytes hex encoded, got %d chars", len(ContextDigest("x")))
	}
}
