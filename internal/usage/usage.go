// Package usage provides short-lived usage accounting for dispatched completions.
// Entries are buffered and aggregated per provider; nothing is kept long term.
package usage

import (
	"context"
	"time"
)

// Store defines the interface for usage aggregation backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch folds multiple usage entries into the per-provider totals.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Totals returns the current per-provider totals.
	Totals(ctx context.Context) (map[string]Totals, error)

	// Flush forces any pending writes to complete.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Entry represents a single successful dispatch.
type Entry struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Tokens    int           `json:"tokens"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// Totals are the aggregated counters for one provider.
type Totals struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// Config holds usage logger configuration
type Config struct {
	// BufferSize is the number of entries buffered before Write starts dropping
	BufferSize int

	// FlushInterval is how often buffered entries are written to the store
	FlushInterval time.Duration

	// BatchSize is the number of entries that triggers an immediate flush
	BatchSize int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
	}
}
