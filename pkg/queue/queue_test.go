package queue_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/gate"
	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/queue"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func turnSaying(msg string) llm.ConversationTurn {
	return llm.ConversationTurn{
		UserMessage:       msg,
		AssistantResponse: "noted",
		UserID:            "u1",
		SessionID:         "s1",
		Timestamp:         time.Now(),
	}
}

// collector records processed items.
type collector struct {
	mu    sync.Mutex
	items []queue.Item
	fail  bool
}

func (c *collector) process(_ context.Context, item queue.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("processing refused")
	}
	c.items = append(c.items, item)
	return nil
}

func (c *collector) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.items))
	for i, item := range c.items {
		out[i] = item.Turn.UserMessage
	}
	return out
}

var _ = Describe("Store", func() {
	var store *queue.Store

	BeforeEach(func() {
		var err error
		store, err = queue.OpenStore(filepath.Join(GinkgoT().TempDir(), "queue.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
	})

	It("round-trips a turn through put and claim", func() {
		ctx := context.Background()
		turn := turnSaying("I prefer tea over coffee")

		id, err := store.Put(ctx, turn, 0.42)
		Expect(err).NotTo(HaveOccurred())

		items, err := store.Claim(ctx, []int64{id})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].Turn.UserMessage).To(Equal("I prefer tea over coffee"))
		Expect(items[0].Turn.UserID).To(Equal("u1"))
		Expect(items[0].GateScore).To(BeNumerically("~", 0.42, 1e-9))
	})

	It("claims only the requested rows and leaves the rest pending", func() {
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 3; i++ {
			id, err := store.Put(ctx, turnSaying(fmt.Sprintf("turn %d", i)), 0.5)
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, id)
		}

		items, err := store.Claim(ctx, ids[:2])
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(2))
		Expect(items[0].Turn.UserMessage).To(Equal("turn 0"))
		Expect(items[1].Turn.UserMessage).To(Equal("turn 1"))

		// The unclaimed row is still pending.
		rest, err := store.Claim(ctx, ids[2:])
		Expect(err).NotTo(HaveOccurred())
		Expect(rest).To(HaveLen(1))
		Expect(rest[0].Turn.UserMessage).To(Equal("turn 2"))
	})

	It("skips rows that were already claimed", func() {
		ctx := context.Background()
		id, err := store.Put(ctx, turnSaying("turn 0"), 0.5)
		Expect(err).NotTo(HaveOccurred())

		first, err := store.Claim(ctx, []int64{id})
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(1))

		second, err := store.Claim(ctx, []int64{id})
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeEmpty())
	})

	It("requeues pending and processing rows on recovery, not terminal ones", func() {
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 4; i++ {
			id, err := store.Put(ctx, turnSaying(fmt.Sprintf("turn %d", i)), 0.5)
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, id)
		}

		claimed, err := store.Claim(ctx, ids[:3])
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(HaveLen(3))

		Expect(store.MarkDone(ctx, claimed[0].ID)).To(Succeed())
		Expect(store.MarkFailed(ctx, claimed[1].ID)).To(Succeed())
		// claimed[2] stays processing, simulating a crash mid-batch.

		pending, err := store.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]int64{ids[2], ids[3]}))

		items, err := store.Claim(ctx, pending)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(2))
		Expect(items[0].Turn.UserMessage).To(Equal("turn 2"))
		Expect(items[1].Turn.UserMessage).To(Equal("turn 3"))
	})
})

var _ = Describe("Queue", func() {
	var (
		store *queue.Store
		sink  *collector
	)

	newQueue := func(cfg queue.Config) *queue.Queue {
		return queue.New(store, gate.New(gate.Config{}), sink.process, cfg, quietLogger)
	}

	BeforeEach(func() {
		var err error
		store, err = queue.OpenStore(filepath.Join(GinkgoT().TempDir(), "queue.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
		sink = &collector{}
	})

	It("increments depth when a gated turn is accepted", func() {
		ctx := context.Background()
		q := newQueue(queue.Config{})

		accepted := q.Enqueue(ctx, turnSaying("I prefer tea over coffee in the mornings"))
		Expect(accepted).To(BeTrue())

		stats := q.Stats()
		Expect(stats.Depth).To(Equal(1))
		Expect(stats.Enqueued).To(Equal(int64(1)))
	})

	It("skips turns that fail the gate without touching the store", func() {
		ctx := context.Background()
		q := newQueue(queue.Config{})

		accepted := q.Enqueue(ctx, turnSaying("ok"))
		Expect(accepted).To(BeFalse())

		stats := q.Stats()
		Expect(stats.Depth).To(Equal(0))
		Expect(stats.Skipped).To(Equal(int64(1)))
	})

	It("evicts the oldest turn instead of blocking when full", func() {
		ctx := context.Background()
		q := newQueue(queue.Config{MaxQueueSize: 5})

		for i := 0; i < 6; i++ {
			msg := fmt.Sprintf("I prefer tea over coffee, note %d", i)
			Expect(q.Enqueue(ctx, turnSaying(msg))).To(BeTrue())
		}

		stats := q.Stats()
		Expect(stats.Depth).To(Equal(5))
		Expect(stats.Dropped).To(Equal(int64(1)))

		processed := q.Flush(ctx)
		Expect(processed).To(Equal(5))
		Expect(sink.messages()[0]).To(Equal("I prefer tea over coffee, note 1"))
		Expect(sink.messages()[4]).To(Equal("I prefer tea over coffee, note 5"))
	})

	It("keeps evicted rows on disk so a restart recovers them", func() {
		ctx := context.Background()
		q := newQueue(queue.Config{MaxQueueSize: 2})

		for i := 0; i < 3; i++ {
			msg := fmt.Sprintf("I prefer tea over coffee, note %d", i)
			Expect(q.Enqueue(ctx, turnSaying(msg))).To(BeTrue())
		}
		Expect(q.Stats().Dropped).To(Equal(int64(1)))
		Expect(q.Flush(ctx)).To(Equal(2))

		// A fresh queue over the same store stands in for a restarted
		// process: the evicted turn is still pending and gets processed.
		q2 := newQueue(queue.Config{MaxQueueSize: 2})
		n, err := q2.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		Expect(q2.Flush(ctx)).To(Equal(1))
		Expect(sink.messages()).To(ContainElement("I prefer tea over coffee, note 0"))
	})

	It("flushes everything pending and reports the count", func() {
		ctx := context.Background()
		q := newQueue(queue.Config{BatchSize: 2})

		for i := 0; i < 5; i++ {
			msg := fmt.Sprintf("I prefer tea over coffee, note %d", i)
			Expect(q.Enqueue(ctx, turnSaying(msg))).To(BeTrue())
		}

		Expect(q.Flush(ctx)).To(Equal(5))
		Expect(q.Stats().Processed).To(Equal(int64(5)))
		Expect(q.Stats().Depth).To(Equal(0))
	})

	It("marks items failed when the processor errors", func() {
		ctx := context.Background()
		sink.fail = true
		q := newQueue(queue.Config{})

		Expect(q.Enqueue(ctx, turnSaying("I prefer tea over coffee"))).To(BeTrue())
		q.Flush(ctx)

		stats := q.Stats()
		Expect(stats.Errors).To(Equal(int64(1)))
		Expect(stats.Processed).To(Equal(int64(0)))
		Expect(stats.Depth).To(Equal(0))
	})

	It("refuses new turns after Stop", func() {
		ctx := context.Background()
		q := newQueue(queue.Config{})
		q.Stop()

		Expect(q.Enqueue(ctx, turnSaying("I prefer tea over coffee"))).To(BeFalse())
	})

	It("processes batches from the background worker", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := newQueue(queue.Config{BatchSize: 2, FlushInterval: 10 * time.Millisecond})
		go q.Run(ctx)

		for i := 0; i < 4; i++ {
			msg := fmt.Sprintf("I prefer tea over coffee, note %d", i)
			Expect(q.Enqueue(ctx, turnSaying(msg))).To(BeTrue())
		}

		Eventually(func() int64 {
			return q.Stats().Processed
		}).Should(Equal(int64(4)))

		cancel()
		q.Stop()
	})

	It("never hands the same turn to two drainers", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := newQueue(queue.Config{BatchSize: 2, FlushInterval: time.Millisecond})
		go q.Run(ctx)

		for i := 0; i < 8; i++ {
			msg := fmt.Sprintf("I prefer tea over coffee, note %d", i)
			Expect(q.Enqueue(ctx, turnSaying(msg))).To(BeTrue())
		}

		// Flush races the worker; every turn must be processed exactly once.
		q.Flush(ctx)
		Eventually(func() int64 {
			return q.Stats().Processed
		}).Should(Equal(int64(8)))
		Consistently(func() int64 {
			return q.Stats().Processed
		}, 50*time.Millisecond).Should(Equal(int64(8)))

		seen := map[string]int{}
		for _, msg := range sink.messages() {
			seen[msg]++
			Expect(seen[msg]).To(Equal(1), "turn %q processed twice", msg)
		}
		Expect(seen).To(HaveLen(8))
		Expect(q.Stats().Errors).To(Equal(int64(0)))

		cancel()
		q.Stop()
	})
})
