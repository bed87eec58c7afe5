package metrics

import "context"

// Metric is one analytics row. Implementations pair a destination
// table with a value tuple matching that table's column order.
type Metric interface {
	TableName() string
	Values() []interface{}
}

// Writer delivers metric batches to the analytics sink
type Writer interface {
	Write(ctx context.Context, table string, batch []Metric) error
	Close() error
}

// Buffer accumulates metrics and flushes them in batches. Add never
// blocks on the sink; the engine's hot paths treat metrics as
// fire-and-forget.
type Buffer interface {
	Add(metric Metric) error
	Flush(ctx context.Context) error
	Size() int
	Close(ctx context.Context) error
}
