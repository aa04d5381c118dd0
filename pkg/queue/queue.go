// Package queue implements the crash-safe extraction queue that sits between
// the conversation hot path and the LLM-backed memory pipeline.
//
// Enqueue is cheap and never blocks on LLM work: the turn is gated, persisted
// to SQLite, and picked up later by the batch worker. The live working set is
// an in-memory window of row ids; eviction on overflow only shrinks the
// window, the persisted row stays pending so a restart recovers it. Pending
// and processing rows are requeued on recovery, so delivery is at-least-once.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/engram/pkg/gate"
	"github.com/papercomputeco/engram/pkg/llm"
)

// ProcessFunc handles one claimed item. A nil error marks the item done; an
// error marks it failed.
type ProcessFunc func(ctx context.Context, item Item) error

// Config holds queue tuning.
type Config struct {
	// BatchSize is the maximum number of items claimed per worker cycle.
	BatchSize int

	// FlushInterval is how long the worker waits before processing a
	// partial batch.
	FlushInterval time.Duration

	// MaxQueueSize caps the in-memory window. When full, the oldest
	// waiting item is evicted from the window to make room; its SQLite
	// row stays pending and is retried after the next restart.
	MaxQueueSize int
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth     int   `json:"depth"`
	Enqueued  int64 `json:"enqueued"`
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped"`
	Errors    int64 `json:"errors"`
}

// Queue accepts conversation turns and feeds them to a processor in batches.
type Queue struct {
	store   *Store
	gate    *gate.Gate
	process ProcessFunc
	cfg     Config
	logger  *slog.Logger

	mu  sync.Mutex
	ids []int64

	enqueued  atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	wake    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Queue. The processor is called from the worker goroutine
// started by Run.
func New(store *Store, g *gate.Gate, process ProcessFunc, cfg Config, logger *slog.Logger) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}

	return &Queue{
		store:   store,
		gate:    g,
		process: process,
		cfg:     cfg,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue gates the turn and, if it passes, persists it for background
// extraction. Returns true if the turn was accepted. Never blocks on
// processing; when the window is full the oldest waiting turn falls out of
// it so the newest information wins, though its row survives for recovery.
func (q *Queue) Enqueue(ctx context.Context, turn llm.ConversationTurn) bool {
	if q.stopped.Load() {
		return false
	}

	pass, score := q.gate.Check(turn.UserMessage, turn.RecentContext)
	if !pass {
		q.skipped.Add(1)
		return false
	}

	id, err := q.store.Put(ctx, turn, score)
	if err != nil {
		q.errors.Add(1)
		q.logger.Warn("queue enqueue failed", "error", err)
		return false
	}

	var evicted int64 = -1
	q.mu.Lock()
	if len(q.ids) >= q.cfg.MaxQueueSize {
		evicted = q.ids[0]
		q.ids = q.ids[1:]
	}
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	if evicted >= 0 {
		q.dropped.Add(1)
		q.logger.Warn("queue full, evicted oldest from window",
			"item_id", evicted,
			"max_queue_size", q.cfg.MaxQueueSize,
		)
	}

	q.enqueued.Add(1)
	q.notify()
	return true
}

// Recover requeues items stranded by a previous run, loads every pending row
// into the window, and returns how many are now waiting.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	ids, err := q.store.Recover(ctx)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	q.ids = ids
	q.mu.Unlock()

	if len(ids) > 0 {
		q.logger.Info("recovered queued turns", "count", len(ids))
		q.notify()
	}
	return len(ids), nil
}

// Run processes batches until ctx is cancelled. A batch is claimed when
// either BatchSize items are waiting or FlushInterval has elapsed since the
// last cycle.
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(1)
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
			// Only drain early when a full batch is waiting; otherwise
			// keep accumulating until the ticker fires.
			if q.depth() < q.cfg.BatchSize {
				continue
			}
		}

		q.drainBatch(ctx)
	}
}

// Flush synchronously drains everything in the window, bounded by the
// context deadline. Returns the number of items drained, including ones
// whose processing failed.
func (q *Queue) Flush(ctx context.Context) int {
	total := 0
	for {
		if ctx.Err() != nil {
			return total
		}

		n := q.drainBatch(ctx)
		if n == 0 {
			return total
		}
		total += n
	}
}

// CloseIntake rejects further Enqueue calls. Waiting items still drain.
func (q *Queue) CloseIntake() {
	q.stopped.Store(true)
}

// Stop closes intake and waits for the worker to exit. Cancel Run's context
// before calling, or Stop blocks until it is.
func (q *Queue) Stop() {
	q.CloseIntake()
	q.wg.Wait()
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:     q.depth(),
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Skipped:   q.skipped.Load(),
		Dropped:   q.dropped.Load(),
		Errors:    q.errors.Load(),
	}
}

func (q *Queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// popBatch removes up to BatchSize ids from the front of the window. Each id
// belongs to exactly one batch, so Run and Flush never claim the same row.
func (q *Queue) popBatch() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.cfg.BatchSize
	if n > len(q.ids) {
		n = len(q.ids)
	}
	if n == 0 {
		return nil
	}

	batch := make([]int64, n)
	copy(batch, q.ids[:n])
	q.ids = q.ids[n:]
	return batch
}

func (q *Queue) drainBatch(ctx context.Context) int {
	batch := q.popBatch()
	if len(batch) == 0 {
		return 0
	}

	items, err := q.store.Claim(ctx, batch)
	if err != nil {
		q.errors.Add(1)
		q.logger.Warn("queue claim failed", "error", err)
		return 0
	}

	for _, item := range items {
		if err := q.processItem(ctx, item); err != nil {
			q.errors.Add(1)
			q.logger.Warn("queue item failed",
				"item_id", item.ID,
				"session_id", item.Turn.SessionID,
				"error", err,
			)
			if err := q.store.MarkFailed(ctx, item.ID); err != nil {
				q.logger.Warn("mark failed", "item_id", item.ID, "error", err)
			}
			continue
		}

		q.processed.Add(1)
		if err := q.store.MarkDone(ctx, item.ID); err != nil {
			q.logger.Warn("mark done", "item_id", item.ID, "error", err)
		}
	}

	return len(batch)
}

func (q *Queue) processItem(ctx context.Context, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.process(ctx, item)
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
