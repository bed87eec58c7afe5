package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

func TestRelationshipDeltaClamping(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)
	ctx := context.Background()

	rel := tr.Update(ctx, "alice", RelationshipDelta{Sentiment: 0.9, Trust: -0.7})

	if rel.Sentiment != 0.2 {
		t.Errorf("sentiment delta must clamp to 0.2, got %f", rel.Sentiment)
	}
	if rel.Trust != -0.2 {
		t.Errorf("trust delta must clamp to -0.2, got %f", rel.Trust)
	}
}

func TestRelationshipAxesStayInRange(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tr.Update(ctx, "bob", RelationshipDelta{Sentiment: 0.2, Trust: 0.2})
	}

	rel := tr.Get("bob")
	if rel.Sentiment != 1 {
		t.Errorf("sentiment should saturate at 1, got %f", rel.Sentiment)
	}
	if rel.Trust != 1 {
		t.Errorf("trust should saturate at 1, got %f", rel.Trust)
	}
}

func TestFamiliarityMonotonic(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)
	ctx := context.Background()

	t.Run("negative growth is ignored", func(t *testing.T) {
		rel := tr.Update(ctx, "carol", RelationshipDelta{Familiarity: -0.5})
		if rel.Familiarity != 0 {
			t.Errorf("familiarity must never decrease, got %f", rel.Familiarity)
		}
	})

	t.Run("growth caps at 0.1 per interaction", func(t *testing.T) {
		rel := tr.Update(ctx, "carol", RelationshipDelta{Familiarity: 0.8})
		if rel.Familiarity != 0.1 {
			t.Errorf("familiarity growth must cap at 0.1, got %f", rel.Familiarity)
		}
	})

	t.Run("saturates at 1", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			tr.Update(ctx, "carol", RelationshipDelta{Familiarity: 0.1})
		}
		if rel := tr.Get("carol"); rel.Familiarity != 1 {
			t.Errorf("familiarity should saturate at 1, got %f", rel.Familiarity)
		}
	})
}

func TestRelationshipRingCaps(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)
	ctx := context.Background()

	for i := 0; i < models.RelationshipRingSize+10; i++ {
		tr.Update(ctx, "dave", RelationshipDelta{
			Interaction: fmt.Sprintf("interaction %d", i),
			Note:        fmt.Sprintf("note %d", i),
		})
	}

	rel := tr.Get("dave")
	if len(rel.Recent) != models.RelationshipRingSize {
		t.Errorf("recent ring should cap at %d, got %d", models.RelationshipRingSize, len(rel.Recent))
	}
	if len(rel.Notes) != models.RelationshipMaxNotes {
		t.Errorf("notes should cap at %d, got %d", models.RelationshipMaxNotes, len(rel.Notes))
	}

	// oldest entries fall off the front
	last := rel.Recent[len(rel.Recent)-1]
	if last != fmt.Sprintf("interaction %d", models.RelationshipRingSize+9) {
		t.Errorf("newest interaction should be last, got %q", last)
	}
}

func TestRelationshipStrongest(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)
	ctx := context.Background()

	tr.Update(ctx, "mild", RelationshipDelta{Sentiment: 0.1})
	tr.Update(ctx, "foe", RelationshipDelta{Sentiment: -0.2})
	tr.Update(ctx, "foe", RelationshipDelta{Sentiment: -0.2})
	tr.Update(ctx, "friend", RelationshipDelta{Sentiment: 0.2})

	strongest := tr.Strongest(2)
	if len(strongest) != 2 {
		t.Fatalf("expected 2 relationships, got %d", len(strongest))
	}
	if strongest[0].TargetID != "foe" {
		t.Errorf("strongest should rank by absolute sentiment, got %q first", strongest[0].TargetID)
	}
}

func TestRelationshipSeed(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)

	tr.Seed("mentor", "taught me everything")

	rel := tr.Get("mentor")
	if rel == nil {
		t.Fatal("seed should create the relationship")
	}
	if rel.Sentiment != 0 || rel.Familiarity != 0 {
		t.Error("seed must not move the numeric axes")
	}
	if len(rel.Notes) != 1 || rel.Notes[0] != "taught me everything" {
		t.Errorf("seed note missing, got %v", rel.Notes)
	}
}

func TestRelationshipGetReturnsCopy(t *testing.T) {
	tr := NewRelationshipTracker("test-agent", nil)
	ctx := context.Background()

	tr.Update(ctx, "eve", RelationshipDelta{Sentiment: 0.2})

	snapshot := tr.Get("eve")
	snapshot.Sentiment = -1

	if tr.Get("eve").Sentiment != 0.2 {
		t.Error("mutating a returned snapshot must not affect the tracker")
	}
}
