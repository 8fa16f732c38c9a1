package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Writer is implemented by both the buffered Logger and NoopLogger.
type Writer interface {
	Write(entry *Entry)
	Close() error
}

// Logger provides async buffered writes with batch flushing.
// It collects entries in a channel and flushes them to the store
// either when the batch is full or at regular intervals.
type Logger struct {
	store   Store
	config  Config
	logger  *slog.Logger
	buffer  chan *Entry
	done    chan struct{}
	wg      sync.WaitGroup
	writes  sync.WaitGroup // tracks in-flight Write calls
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewLogger creates a new async buffered Logger and starts its flush loop.
func NewLogger(store Store, cfg Config, logger *slog.Logger) *Logger {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	l := &Logger{
		store:  store,
		config: cfg,
		logger: logger,
		buffer: make(chan *Entry, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry for async writing.
// This method is non-blocking. If the buffer is full or the logger is closed,
// the entry is dropped.
func (l *Logger) Write(entry *Entry) {
	if entry == nil {
		return
	}

	if l.closed.Load() {
		return
	}

	// Track this write so Close does not close the buffer mid-send
	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have run between the first check and Add(1)
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
		l.logger.Warn("usage buffer full, dropping entry",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
		)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Close stops the logger and flushes remaining entries.
// Close is idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, l.config.BatchSize)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= l.config.BatchSize {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, l.config.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, l.config.BatchSize)
			}

		case <-l.done:
			// closed is already set, no writer can send any more
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				l.logger.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		l.logger.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger is used when usage accounting is disabled
type NoopLogger struct{}

// Write does nothing
func (NoopLogger) Write(*Entry) {}

// Close does nothing
func (NoopLogger) Close() error { return nil }

var (
	_ Writer = (*Logger)(nil)
	_ Writer = NoopLogger{}
)
