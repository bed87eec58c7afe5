package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/database"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Repository persists agent memory, relationships, mention cursors and
// trading counters in Postgres.
type Repository struct {
	db *database.DB
}

// NewRepository creates new agents repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

type memoryRow struct {
	ID           string          `db:"id"`
	AgentID      string          `db:"agent_id"`
	Content      string          `db:"content"`
	Kind         string          `db:"kind"`
	Importance   float64         `db:"importance"`
	Emotion      float64         `db:"emotion"`
	Associations json.RawMessage `db:"associations"`
	Metadata     json.RawMessage `db:"metadata"`
	Embedding    json.RawMessage `db:"embedding"`
	CreatedAt    time.Time       `db:"created_at"`
}

func (r memoryRow) toModel() (*models.MemoryItem, error) {
	item := &models.MemoryItem{
		ID:         r.ID,
		AgentID:    r.AgentID,
		Content:    r.Content,
		Kind:       models.MemoryKind(r.Kind),
		Importance: r.Importance,
		Emotion:    r.Emotion,
		Timestamp:  r.CreatedAt,
	}
	if len(r.Associations) > 0 {
		if err := json.Unmarshal(r.Associations, &item.Associations); err != nil {
			return nil, fmt.Errorf("failed to decode associations: %w", err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if len(r.Embedding) > 0 {
		if err := json.Unmarshal(r.Embedding, &item.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return item, nil
}

// SaveMemory upserts one memory item
func (r *Repository) SaveMemory(ctx context.Context, item *models.MemoryItem) error {
	associations, err := json.Marshal(item.Associations)
	if err != nil {
		return fmt.Errorf("failed to encode associations: %w", err)
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	var embedding []byte
	if len(item.Embedding) > 0 {
		embedding, err = json.Marshal(item.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
	}

	query := `
		INSERT INTO agent_memories (id, agent_id, content, kind, importance, emotion, associations, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			importance = EXCLUDED.importance,
			emotion = EXCLUDED.emotion,
			associations = EXCLUDED.associations,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`

	_, err = r.db.DB().ExecContext(ctx, query,
		item.ID, item.AgentID, item.Content, string(item.Kind),
		item.Importance, item.Emotion, associations, metadata, embedding, item.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	return nil
}

// DeleteMemory removes one memory item by id
func (r *Repository) DeleteMemory(ctx context.Context, agentID, memoryID string) error {
	result, err := r.db.DB().ExecContext(ctx,
		`DELETE FROM agent_memories WHERE agent_id = $1 AND id = $2`, agentID, memoryID)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadMemories returns all memories for one agent, newest first
func (r *Repository) LoadMemories(ctx context.Context, agentID string) ([]*models.MemoryItem, error) {
	var rows []memoryRow
	err := r.db.DB().SelectContext(ctx, &rows,
		`SELECT id, agent_id, content, kind, importance, emotion, associations, metadata, embedding, created_at
		 FROM agent_memories WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}

	items := make([]*models.MemoryItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// SaveRelationship upserts one relationship row
func (r *Repository) SaveRelationship(ctx context.Context, rel *models.Relationship) error {
	recent, err := json.Marshal(rel.Recent)
	if err != nil {
		return fmt.Errorf("failed to encode recent interactions: %w", err)
	}
	notes, err := json.Marshal(rel.Notes)
	if err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}

	query := `
		INSERT INTO agent_relationships (agent_id, target_id, sentiment, familiarity, trust, last_interaction, recent, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id, target_id) DO UPDATE SET
			sentiment = EXCLUDED.sentiment,
			familiarity = EXCLUDED.familiarity,
			trust = EXCLUDED.trust,
			last_interaction = EXCLUDED.last_interaction,
			recent = EXCLUDED.recent,
			notes = EXCLUDED.notes`

	_, err = r.db.DB().ExecContext(ctx, query,
		rel.AgentID, rel.TargetID, rel.Sentiment, rel.Familiarity, rel.Trust,
		rel.LastInteraction, recent, notes)
	if err != nil {
		return fmt.Errorf("failed to save relationship: %w", err)
	}
	return nil
}

type relationshipRow struct {
	AgentID         string          `db:"agent_id"`
	TargetID        string          `db:"target_id"`
	Sentiment       float64         `db:"sentiment"`
	Familiarity     float64         `db:"familiarity"`
	Trust           float64         `db:"trust"`
	LastInteraction time.Time       `db:"last_interaction"`
	Recent          json.RawMessage `db:"recent"`
	Notes           json.RawMessage `db:"notes"`
}

func (r relationshipRow) toModel() (*models.Relationship, error) {
	rel := &models.Relationship{
		AgentID:         r.AgentID,
		TargetID:        r.TargetID,
		Sentiment:       r.Sentiment,
		Familiarity:     r.Familiarity,
		Trust:           r.Trust,
		LastInteraction: r.LastInteraction,
	}
	if len(r.Recent) > 0 {
		if err := json.Unmarshal(r.Recent, &rel.Recent); err != nil {
			return nil, fmt.Errorf("failed to decode recent interactions: %w", err)
		}
	}
	if len(r.Notes) > 0 {
		if err := json.Unmarshal(r.Notes, &rel.Notes); err != nil {
			return nil, fmt.Errorf("failed to decode notes: %w", err)
		}
	}
	return rel, nil
}

// LoadRelationships returns all relationships for one agent
func (r *Repository) LoadRelationships(ctx context.Context, agentID string) ([]*models.Relationship, error) {
	var rows []relationshipRow
	err := r.db.DB().SelectContext(ctx, &rows,
		`SELECT agent_id, target_id, sentiment, familiarity, trust, last_interaction, recent, notes
		 FROM agent_relationships WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}

	rels := make([]*models.Relationship, 0, len(rows))
	for _, row := range rows {
		rel, err := row.toModel()
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// GetMentionCursor returns the persisted since_id for an agent, empty
// when the agent has never polled.
func (r *Repository) GetMentionCursor(ctx context.Context, agentID string) (string, error) {
	var sinceID string
	err := r.db.DB().GetContext(ctx, &sinceID,
		`SELECT since_id FROM mention_cursors WHERE agent_id = $1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get mention cursor: %w", err)
	}
	return sinceID, nil
}

// SetMentionCursor persists the since_id watermark for an agent
func (r *Repository) SetMentionCursor(ctx context.Context, agentID, sinceID string) error {
	query := `
		INSERT INTO mention_cursors (agent_id, since_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (agent_id) DO UPDATE SET since_id = EXCLUDED.since_id, updated_at = NOW()`

	_, err := r.db.DB().ExecContext(ctx, query, agentID, sinceID)
	if err != nil {
		return fmt.Errorf("failed to set mention cursor: %w", err)
	}
	return nil
}

// LoadSafetyState returns the daily trading counters for an agent
func (r *Repository) LoadSafetyState(ctx context.Context, agentID string) (*models.TradingSafetyState, error) {
	var state models.TradingSafetyState
	err := r.db.DB().GetContext(ctx, &state,
		`SELECT agent_id, trades_today, volume_today, last_trade_at, day_start
		 FROM trading_safety WHERE agent_id = $1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.TradingSafetyState{
			AgentID:     agentID,
			VolumeToday: decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load safety state: %w", err)
	}
	return &state, nil
}

// SaveSafetyState upserts the daily trading counters for an agent
func (r *Repository) SaveSafetyState(ctx context.Context, state *models.TradingSafetyState) error {
	query := `
		INSERT INTO trading_safety (agent_id, trades_today, volume_today, last_trade_at, day_start)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			trades_today = EXCLUDED.trades_today,
			volume_today = EXCLUDED.volume_today,
			last_trade_at = EXCLUDED.last_trade_at,
			day_start = EXCLUDED.day_start`

	_, err := r.db.DB().ExecContext(ctx, query,
		state.AgentID, state.TradesToday, state.VolumeToday, state.LastTradeAt, state.DayStart)
	if err != nil {
		return fmt.Errorf("failed to save safety state: %w", err)
	}
	return nil
}

// RecordTrade appends one executed trade to the ledger
func (r *Repository) RecordTrade(ctx context.Context, agentID, inputMint, outputMint string, amount decimal.Decimal, signature string, simulated bool) error {
	query := `
		INSERT INTO trade_ledger (agent_id, input_mint, output_mint, amount, signature, simulated, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := r.db.DB().ExecContext(ctx, query,
		agentID, inputMint, outputMint, amount, signature, simulated)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}
