package resolver

import (
	"sync"
	"time"

	"solana-token-feed/internal/domain"
)

// batchResult is delivered to every member of a flushed batch. A non-nil
// err means the batch request failed and the member should use RPC.
type batchResult struct {
	detail *domain.TxDetail
	err    error
}

type batchRequest struct {
	signature string
	done      chan batchResult
}

// batcher accumulates signatures and flushes them when the window elapses
// or the batch is full, whichever comes first.
type batcher struct {
	window time.Duration
	size   int
	flush  func([]batchRequest)

	mu      sync.Mutex
	pending []batchRequest
	timer   *time.Timer
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

func newBatcher(window time.Duration, size int, flush func([]batchRequest)) *batcher {
	return &batcher{window: window, size: size, flush: flush}
}

// add enqueues signature and returns the channel its result arrives on.
func (b *batcher) add(signature string) <-chan batchResult {
	req := batchRequest{signature: signature, done: make(chan batchResult, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		req.done <- batchResult{err: errBatcherClosed}
		return req.done
	}
	b.pending = append(b.pending, req)
	if len(b.pending) >= b.size {
		batch := b.take()
		b.mu.Unlock()
		b.run(batch)
		return req.done
	}
	if b.timer == nil {
		gen := b.gen
		b.timer = time.AfterFunc(b.window, func() { b.flushWindow(gen) })
	}
	b.mu.Unlock()
	return req.done
}

func (b *batcher) flushWindow(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.take()
	b.mu.Unlock()
	b.run(batch)
}

// take must be called with mu held. A non-empty batch must be passed to run.
func (b *batcher) take() []batchRequest {
	batch := b.pending
	b.pending = nil
	if len(batch) > 0 {
		b.wg.Add(1)
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	return batch
}

func (b *batcher) run(batch []batchRequest) {
	go func() {
		defer b.wg.Done()
		b.flush(batch)
	}()
}

// close flushes whatever is pending and waits for in-flight batches.
func (b *batcher) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.take()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.run(batch)
	}
	b.wg.Wait()
}
