package agents

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/llm"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// DefaultMaxMemories caps the number of items one agent retains.
// Core memories are pinned and never count against eviction.
const DefaultMaxMemories = 1000

// writeQueueSize bounds the background persistence queue
const writeQueueSize = 256

// ScoredMemory is a retrieval hit with its ranking score
type ScoredMemory struct {
	Item  *models.MemoryItem
	Score float64
}

// Embedder is the slice of the llm provider the store needs
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MemoryStore is one agent's typed memory. Reads are served from an
// in-memory working set; writes are mirrored to Postgres by a single
// background writer so retrieval latency never includes a round trip.
type MemoryStore struct {
	mu       sync.RWMutex
	agentID  string
	items    map[string]*models.MemoryItem
	maxItems int

	provider Embedder
	repo     *Repository

	writes chan *models.MemoryItem
	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewMemoryStore creates a store for one agent. provider supplies
// embeddings for semantic retrieval and may be nil in tests.
func NewMemoryStore(agentID string, provider Embedder, repo *Repository) *MemoryStore {
	s := &MemoryStore{
		agentID:  agentID,
		items:    make(map[string]*models.MemoryItem),
		maxItems: DefaultMaxMemories,
		provider: provider,
		repo:     repo,
		writes:   make(chan *models.MemoryItem, writeQueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}

	s.wg.Add(1)
	go s.writer()

	return s
}

// Load hydrates the working set from persistence
func (s *MemoryStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	items, err := s.repo.LoadMemories(ctx, s.agentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, item := range items {
		s.items[item.ID] = item
	}
	s.mu.Unlock()

	logger.Debug("💾 Memories loaded",
		zap.String("agent", s.agentID),
		zap.Int("count", len(items)),
	)
	return nil
}

// Seed inserts the persona's initial memories when the store is empty.
// Core memories get importance 1.0, recent events 0.5.
func (s *MemoryStore) Seed(ctx context.Context, initial models.InitialMemory) {
	s.mu.RLock()
	empty := len(s.items) == 0
	s.mu.RUnlock()
	if !empty {
		return
	}

	for _, content := range initial.CoreMemories {
		s.Insert(ctx, &models.MemoryItem{
			Content:    content,
			Kind:       models.MemoryCore,
			Importance: 1.0,
		})
	}
	for _, content := range initial.RecentEvents {
		s.Insert(ctx, &models.MemoryItem{
			Content:    content,
			Kind:       models.MemoryEvent,
			Importance: 0.5,
		})
	}
}

// Insert stores a memory item, embedding it when the provider can,
// and evicts the stalest low-importance item when over capacity.
func (s *MemoryStore) Insert(ctx context.Context, item *models.MemoryItem) *models.MemoryItem {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.AgentID = s.agentID
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now()
	}
	item.Importance = clampImportance(item.Importance)

	if s.provider != nil && len(item.Embedding) == 0 {
		vec, err := s.provider.Embed(ctx, item.Content)
		if err == nil {
			item.Embedding = vec
		} else if !errors.Is(err, llm.ErrNoEmbeddings) {
			logger.Debug("embedding failed, memory stored without vector",
				zap.String("agent", s.agentID),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	s.items[item.ID] = item
	evicted := s.evictLocked()
	s.mu.Unlock()

	s.enqueueWrite(item)

	if evicted != nil {
		logger.Debug("🧹 Memory evicted",
			zap.String("agent", s.agentID),
			zap.String("kind", string(evicted.Kind)),
			zap.Float64("importance", evicted.Importance),
		)
	}

	return item
}

// Delete removes one item from the working set and persistence
func (s *MemoryStore) Delete(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	_, ok := s.items[memoryID]
	delete(s.items, memoryID)
	s.mu.Unlock()

	if s.repo != nil {
		return s.repo.DeleteMemory(ctx, s.agentID, memoryID)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Get returns one item by id
func (s *MemoryStore) Get(memoryID string) (*models.MemoryItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[memoryID]
	return item, ok
}

// All returns every item, newest first
func (s *MemoryStore) All() []*models.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Core returns up to n core memories ranked by importance
func (s *MemoryStore) Core(n int) []*models.MemoryItem {
	return s.topByKind(models.MemoryCore, n)
}

// RecentEvents returns up to n event memories, newest first
func (s *MemoryStore) RecentEvents(n int) []*models.MemoryItem {
	items := s.byKind(models.MemoryEvent)
	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// Search ranks memories against a query. With embeddings available the
// score is cosine similarity weighted by importance; otherwise it
// degrades to lexical token overlap with the same weighting. Ties break
// by importance, then recency.
func (s *MemoryStore) Search(ctx context.Context, query string, limit int) []ScoredMemory {
	var queryVec []float32
	if s.provider != nil {
		vec, err := s.provider.Embed(ctx, query)
		if err == nil {
			queryVec = vec
		}
	}

	s.mu.RLock()
	scored := make([]ScoredMemory, 0, len(s.items))
	for _, item := range s.items {
		var sim float64
		if queryVec != nil && len(item.Embedding) > 0 {
			sim = cosineSimilarity(queryVec, item.Embedding)
		} else {
			sim = lexicalOverlap(query, item.Content)
		}
		score := sim * (0.5 + 0.5*item.Importance)
		scored = append(scored, ScoredMemory{Item: item, Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Item.Importance != scored[j].Item.Importance {
			return scored[i].Item.Importance > scored[j].Item.Importance
		}
		return scored[i].Item.Timestamp.After(scored[j].Item.Timestamp)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Close flushes pending writes and stops the background writer
func (s *MemoryStore) Close() {
	close(s.done)
	s.wg.Wait()
}

// evictLocked removes the non-core item with the highest staleness
// score age*(1-importance) when the store is over capacity. Returns
// the evicted item, if any.
func (s *MemoryStore) evictLocked() *models.MemoryItem {
	if len(s.items) <= s.maxItems {
		return nil
	}

	now := s.now()
	var worst *models.MemoryItem
	var worstScore float64

	for _, item := range s.items {
		if item.Kind == models.MemoryCore {
			continue
		}
		age := now.Sub(item.Timestamp).Hours()
		score := age * (1 - item.Importance)
		if worst == nil || score > worstScore {
			worst = item
			worstScore = score
		}
	}

	if worst != nil {
		delete(s.items, worst.ID)
	}
	return worst
}

func (s *MemoryStore) byKind(kind models.MemoryKind) []*models.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.MemoryItem
	for _, item := range s.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

func (s *MemoryStore) topByKind(kind models.MemoryKind, n int) []*models.MemoryItem {
	items := s.byKind(kind)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Importance != items[j].Importance {
			return items[i].Importance > items[j].Importance
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if len(items) > n {
		items = items[:n]
	}
	return items
}

func (s *MemoryStore) enqueueWrite(item *models.MemoryItem) {
	if s.repo == nil {
		return
	}
	select {
	case s.writes <- item:
	default:
		// queue full: write synchronously rather than drop
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SaveMemory(ctx, item); err != nil {
			logger.Warn("⚠️ Failed to persist memory", zap.String("agent", s.agentID), zap.Error(err))
		}
	}
}

// writer drains the persistence queue on a single goroutine so writes
// for one agent never race each other.
func (s *MemoryStore) writer() {
	defer s.wg.Done()

	flush := func(item *models.MemoryItem) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SaveMemory(ctx, item); err != nil {
			logger.Warn("⚠️ Failed to persist memory", zap.String("agent", s.agentID), zap.Error(err))
		}
	}

	for {
		select {
		case item := <-s.writes:
			if s.repo != nil {
				flush(item)
			}
		case <-s.done:
			for {
				select {
				case item := <-s.writes:
					if s.repo != nil {
						flush(item)
					}
				default:
					return
				}
			}
		}
	}
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// lexicalOverlap is the embedding-free fallback: the fraction of query
// tokens present in the content.
func lexicalOverlap(query, content string) float64 {
	queryTokens := strings.Fields(strings.ToLower(query))
	if len(queryTokens) == 0 {
		return 0
	}

	contentTokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		contentTokens[strings.Trim(tok, ".,!?;:\"'()")] = true
	}

	matched := 0
	for _, tok := range queryTokens {
		if contentTokens[strings.Trim(tok, ".,!?;:\"'()")] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
