package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/database"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

// Repository writes metric batches into ClickHouse tables
type Repository struct {
	db *database.DB
}

// NewRepository creates new ClickHouse repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// InsertBatch inserts a batch of rows into a table. Rows must share
// the table's column order.
func (r *Repository) InsertBatch(ctx context.Context, tableName string, values [][]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	columnCount := len(values[0])
	if columnCount == 0 {
		return fmt.Errorf("values have no columns")
	}

	placeholders := make([]string, len(values))
	args := make([]interface{}, 0, len(values)*columnCount)

	for i, row := range values {
		if len(row) != columnCount {
			return fmt.Errorf("row %d has wrong column count: expected %d, got %d", i, columnCount, len(row))
		}

		valuePlaceholders := make([]string, columnCount)
		for j := range row {
			valuePlaceholders[j] = "?"
		}
		placeholders[i] = "(" + strings.Join(valuePlaceholders, ", ") + ")"
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s VALUES %s", tableName, strings.Join(placeholders, ", "))

	if _, err := r.db.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clickhouse insert failed: %w", err)
	}

	logger.Debug("clickhouse batch insert",
		zap.String("table", tableName),
		zap.Int("rows", len(values)),
	)
	return nil
}

// Close releases nothing; the connection is managed by the caller
func (r *Repository) Close() error {
	return nil
}
