package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-token-feed/internal/observability"
)

// Buffer defaults.
const (
	DefaultBufferSize    = 4096
	DefaultBatchSize     = 500
	DefaultFlushInterval = 2 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
)

// BufferConfig configures a write-behind Buffer.
type BufferConfig struct {
	Name          string // metric label
	Size          int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.Name == "" {
		c.Name = "sink"
	}
	if c.Size <= 0 {
		c.Size = DefaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > c.Size {
		c.BatchSize = c.Size
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Buffer collects values off the hot path and hands them to a flush function
// in batches. Add never blocks: when the buffer is full the value is dropped
// and counted. A failed flush is logged and the batch is discarded.
type Buffer[T any] struct {
	cfg     BufferConfig
	flush   func(ctx context.Context, batch []T) error
	logger  *zap.Logger
	metrics *observability.Metrics

	in   chan T
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewBuffer starts a Buffer that calls flush with at most cfg.BatchSize
// values, whenever a batch fills or cfg.FlushInterval elapses.
func NewBuffer[T any](cfg BufferConfig, flush func(ctx context.Context, batch []T) error, logger *zap.Logger, metrics *observability.Metrics) *Buffer[T] {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffer[T]{
		cfg:     cfg,
		flush:   flush,
		logger:  logger.Named("writebehind").With(zap.String("sink", cfg.Name)),
		metrics: metrics,
		in:      make(chan T, cfg.Size),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Add enqueues v. It reports false when v was dropped.
func (b *Buffer[T]) Add(v T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.in <- v:
		return true
	default:
		b.metrics.RecordSinkDrop(b.cfg.Name)
		return false
	}
}

// Close stops accepting values, flushes what is buffered and waits for the
// final write to finish.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Buffer[T]) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]T, 0, b.cfg.BatchSize)
	for {
		select {
		case v := <-b.in:
			batch = append(batch, v)
			if len(batch) >= b.cfg.BatchSize {
				batch = b.write(batch)
			}
		case <-ticker.C:
			batch = b.write(batch)
		case <-b.done:
			// Closed under the write lock, so nothing more can arrive.
			for {
				select {
				case v := <-b.in:
					batch = append(batch, v)
					if len(batch) >= b.cfg.BatchSize {
						batch = b.write(batch)
					}
				default:
					b.write(batch)
					return
				}
			}
		}
	}
}

func (b *Buffer[T]) write(batch []T) []T {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := b.flush(ctx, batch)
	b.metrics.RecordDBQuery(b.cfg.Name, "flush", time.Since(start).Seconds())
	b.metrics.RecordSinkWrite(b.cfg.Name, err)
	if err != nil {
		b.logger.Warn("write-behind flush failed",
			zap.Int("batch", len(batch)),
			zap.Error(err),
		)
	}
	return make([]T, 0, b.cfg.BatchSize)
}
