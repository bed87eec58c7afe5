package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	flushTimeout         = 5 * time.Second
)

// BufferConfig configures the batching writer
type BufferConfig struct {
	Writer        Writer
	BatchSize     int
	FlushInterval time.Duration
}

// BufferedMetrics batches metric rows per destination table and
// flushes when a table batch fills or the interval elapses. A failed
// flush drops the batch after logging; posting and trading must never
// stall on the analytics sink.
type BufferedMetrics struct {
	writer        Writer
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending map[string][]Metric

	stop chan struct{}
	done chan struct{}
}

// NewBufferedMetrics creates the buffer and starts its flush loop
func NewBufferedMetrics(cfg BufferConfig) *BufferedMetrics {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	b := &BufferedMetrics{
		writer:        cfg.Writer,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		pending:       make(map[string][]Metric),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go b.flushLoop()

	logger.Info("metrics buffer started",
		zap.Int("batch_size", b.batchSize),
		zap.Duration("flush_interval", b.flushInterval),
	)
	return b
}

// Add buffers one metric, flushing its table's batch when full
func (b *BufferedMetrics) Add(metric Metric) error {
	table := metric.TableName()

	b.mu.Lock()
	b.pending[table] = append(b.pending[table], metric)
	full := len(b.pending[table]) >= b.batchSize
	b.mu.Unlock()

	if !full {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return b.Flush(ctx)
}

// Flush writes everything currently buffered. Batches that fail to
// write are dropped, not retried.
func (b *BufferedMetrics) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string][]Metric)
	b.mu.Unlock()

	var firstErr error
	for table, batch := range pending {
		if len(batch) == 0 {
			continue
		}
		if err := b.writer.Write(ctx, table, batch); err != nil {
			logger.Error("metric batch dropped",
				zap.String("table", table),
				zap.Int("rows", len(batch)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to write %s batch: %w", table, err)
			}
		}
	}
	return firstErr
}

// Size reports buffered rows across all tables
func (b *BufferedMetrics) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, batch := range b.pending {
		n += len(batch)
	}
	return n
}

// Close stops the flush loop, drains the buffer, and closes the sink
func (b *BufferedMetrics) Close(ctx context.Context) error {
	close(b.stop)
	<-b.done

	if err := b.Flush(ctx); err != nil {
		return err
	}
	return b.writer.Close()
}

func (b *BufferedMetrics) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := b.Flush(ctx); err != nil {
				logger.Warn("interval flush failed", zap.Error(err))
			}
			cancel()
		}
	}
}
