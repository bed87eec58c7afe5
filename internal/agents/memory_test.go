package agents

import (
	"context"
	"testing"
	"time"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/llm"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

func newTestStore(t *testing.T, embedder Embedder) *MemoryStore {
	t.Helper()
	s := NewMemoryStore("test-agent", embedder, nil)
	t.Cleanup(s.Close)
	return s
}

func TestMemoryInsertDefaults(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	item := s.Insert(ctx, &models.MemoryItem{Content: "first post went well", Importance: 1.7})

	if item.ID == "" {
		t.Error("insert should assign an id")
	}
	if item.AgentID != "test-agent" {
		t.Errorf("insert should stamp the agent id, got %q", item.AgentID)
	}
	if item.Importance != 1 {
		t.Errorf("importance should clamp to 1, got %f", item.Importance)
	}
	if item.Timestamp.IsZero() {
		t.Error("insert should stamp a timestamp")
	}
}

func TestMemoryEvictionPinsCore(t *testing.T) {
	s := newTestStore(t, nil)
	s.maxItems = 3
	ctx := context.Background()

	base := time.Now().Add(-24 * time.Hour)
	core := s.Insert(ctx, &models.MemoryItem{
		Content: "i was born in a datacenter", Kind: models.MemoryCore, Importance: 1.0, Timestamp: base,
	})
	stale := s.Insert(ctx, &models.MemoryItem{
		Content: "old chatter", Kind: models.MemoryEvent, Importance: 0.1, Timestamp: base,
	})
	s.Insert(ctx, &models.MemoryItem{
		Content: "important trade", Kind: models.MemoryEvent, Importance: 0.9, Timestamp: base.Add(time.Hour),
	})
	s.Insert(ctx, &models.MemoryItem{
		Content: "fresh mention", Kind: models.MemoryInteraction, Importance: 0.5,
	})

	if _, ok := s.Get(core.ID); !ok {
		t.Error("core memories must never be evicted")
	}
	if _, ok := s.Get(stale.ID); ok {
		t.Error("the stale low-importance item should have been evicted")
	}
	if len(s.All()) != 3 {
		t.Errorf("expected 3 items after eviction, got %d", len(s.All()))
	}
}

func TestMemorySeedOnlyWhenEmpty(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	initial := models.InitialMemory{
		CoreMemories: []string{"launched on a tuesday"},
		RecentEvents: []string{"met another bot"},
	}

	s.Seed(ctx, initial)
	if len(s.All()) != 2 {
		t.Fatalf("expected 2 seeded items, got %d", len(s.All()))
	}

	core := s.Core(5)
	if len(core) != 1 || core[0].Importance != 1.0 {
		t.Errorf("core seed should have importance 1.0, got %+v", core)
	}
	events := s.RecentEvents(5)
	if len(events) != 1 || events[0].Importance != 0.5 {
		t.Errorf("event seed should have importance 0.5, got %+v", events)
	}

	// a second seed against a non-empty store is a no-op
	s.Seed(ctx, initial)
	if len(s.All()) != 2 {
		t.Errorf("seed must not run twice, got %d items", len(s.All()))
	}
}

func TestMemorySearchSemantic(t *testing.T) {
	s := newTestStore(t, llm.NewFakeProvider())
	ctx := context.Background()

	s.Insert(ctx, &models.MemoryItem{Content: "validator downtime on mainnet", Importance: 0.5})
	s.Insert(ctx, &models.MemoryItem{Content: "coffee is great", Importance: 0.5})

	hits := s.Search(ctx, "validator downtime on mainnet", 1)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Item.Content != "validator downtime on mainnet" {
		t.Errorf("identical content should rank first, got %q", hits[0].Item.Content)
	}
}

func TestMemorySearchLexicalFallback(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	s.Insert(ctx, &models.MemoryItem{Content: "the token launch went live today", Importance: 0.5})
	s.Insert(ctx, &models.MemoryItem{Content: "nothing in common here", Importance: 0.5})

	hits := s.Search(ctx, "token launch", 2)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Item.Content != "the token launch went live today" {
		t.Errorf("lexical overlap should rank the matching item first, got %q", hits[0].Item.Content)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores should be ordered, got %f then %f", hits[0].Score, hits[1].Score)
	}
}

func TestMemorySearchImportanceWeighting(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	s.Insert(ctx, &models.MemoryItem{Content: "market crash warning", Importance: 0.1})
	s.Insert(ctx, &models.MemoryItem{Content: "market crash warning", Importance: 0.9})

	hits := s.Search(ctx, "market crash", 2)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Item.Importance != 0.9 {
		t.Errorf("equal similarity should rank by importance, got %f first", hits[0].Item.Importance)
	}
}

func TestMemoryDelete(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	item := s.Insert(ctx, &models.MemoryItem{Content: "to be forgotten"})
	if err := s.Delete(ctx, item.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := s.Get(item.ID); ok {
		t.Error("deleted item should be gone")
	}
	if err := s.Delete(ctx, "missing-id"); err != ErrNotFound {
		t.Errorf("deleting an unknown id should return ErrNotFound, got %v", err)
	}
}
