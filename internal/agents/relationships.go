package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// RelationshipDelta is one interaction's effect on a relationship.
// Sentiment and trust move at most 0.2 per interaction; familiarity
// only grows, at most 0.1 per interaction, and never past 1.
type RelationshipDelta struct {
	Sentiment   float64
	Familiarity float64
	Trust       float64
	Interaction string // short description appended to the recent ring
	Note        string // optional durable observation
}

// RelationshipTracker maintains one agent's view of other accounts.
// All mutation goes through Update so the clamping rules hold.
type RelationshipTracker struct {
	mu      sync.RWMutex
	agentID string
	rels    map[string]*models.Relationship
	repo    *Repository
	now     func() time.Time
}

// NewRelationshipTracker creates an empty tracker for one agent
func NewRelationshipTracker(agentID string, repo *Repository) *RelationshipTracker {
	return &RelationshipTracker{
		agentID: agentID,
		rels:    make(map[string]*models.Relationship),
		repo:    repo,
		now:     time.Now,
	}
}

// Load hydrates the tracker from persistence
func (t *RelationshipTracker) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}

	rels, err := t.repo.LoadRelationships(ctx, t.agentID)
	if err != nil {
		return fmt.Errorf("failed to load relationships for %s: %w", t.agentID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rel := range rels {
		t.rels[rel.TargetID] = rel
	}

	logger.Debug("💾 Relationships loaded",
		zap.String("agent", t.agentID),
		zap.Int("count", len(rels)),
	)
	return nil
}

// Seed creates an initial relationship with a free-form note, without
// moving any of the numeric axes.
func (t *RelationshipTracker) Seed(targetID, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rel := t.getLocked(targetID)
	if note != "" {
		rel.Notes = appendCapped(rel.Notes, note, models.RelationshipMaxNotes)
	}
}

// Update applies one interaction's delta with the clamping rules
func (t *RelationshipTracker) Update(ctx context.Context, targetID string, delta RelationshipDelta) *models.Relationship {
	t.mu.Lock()

	rel := t.getLocked(targetID)
	rel.Sentiment = clampAxis(rel.Sentiment + clampDelta(delta.Sentiment, 0.2))
	rel.Trust = clampAxis(rel.Trust + clampDelta(delta.Trust, 0.2))

	// familiarity is monotonic
	growth := delta.Familiarity
	if growth < 0 {
		growth = 0
	}
	if growth > 0.1 {
		growth = 0.1
	}
	rel.Familiarity += growth
	if rel.Familiarity > 1 {
		rel.Familiarity = 1
	}

	rel.LastInteraction = t.now()
	if delta.Interaction != "" {
		rel.Recent = appendCapped(rel.Recent, delta.Interaction, models.RelationshipRingSize)
	}
	if delta.Note != "" {
		rel.Notes = appendCapped(rel.Notes, delta.Note, models.RelationshipMaxNotes)
	}

	snapshot := *rel
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.SaveRelationship(ctx, &snapshot); err != nil {
			logger.Warn("⚠️ Failed to persist relationship",
				zap.String("agent", t.agentID),
				zap.String("target", targetID),
				zap.Error(err),
			)
		}
	}

	return &snapshot
}

// Get returns a copy of one relationship, or nil when unknown
func (t *RelationshipTracker) Get(targetID string) *models.Relationship {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rel, ok := t.rels[targetID]
	if !ok {
		return nil
	}
	snapshot := *rel
	return &snapshot
}

// All returns copies of every tracked relationship
func (t *RelationshipTracker) All() []*models.Relationship {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*models.Relationship, 0, len(t.rels))
	for _, rel := range t.rels {
		snapshot := *rel
		out = append(out, &snapshot)
	}
	return out
}

// Strongest returns up to n relationships ranked by |sentiment|
func (t *RelationshipTracker) Strongest(n int) []*models.Relationship {
	all := t.All()
	sort.Slice(all, func(i, j int) bool {
		return abs(all[i].Sentiment) > abs(all[j].Sentiment)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *RelationshipTracker) getLocked(targetID string) *models.Relationship {
	rel, ok := t.rels[targetID]
	if !ok {
		rel = &models.Relationship{
			AgentID:  t.agentID,
			TargetID: targetID,
		}
		t.rels[targetID] = rel
	}
	return rel
}

func appendCapped(items []string, item string, cap int) []string {
	items = append(items, item)
	if len(items) > cap {
		items = items[len(items)-cap:]
	}
	return items
}

func clampDelta(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func clampAxis(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
