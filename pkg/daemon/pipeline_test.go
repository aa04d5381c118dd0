package daemon_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/contextblock"
	"github.com/papercomputeco/engram/pkg/daemon"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/memory/native"
	"github.com/papercomputeco/engram/pkg/queue"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedCaller returns queued responses in order.
type scriptedCaller struct {
	mu        sync.Mutex
	responses []string
	err       error
}

func (s *scriptedCaller) Complete(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "[]", nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *scriptedCaller) Model() string { return "scripted" }

func item(userMessage string) queue.Item {
	return queue.Item{
		ID: 1,
		Turn: llm.ConversationTurn{
			UserMessage:       userMessage,
			AssistantResponse: "noted",
			UserID:            "u1",
			SessionID:         "s1",
		},
	}
}

var _ = Describe("Pipeline", func() {
	var (
		provider  *native.Provider
		publisher *nop.Publisher
		caller    *scriptedCaller
		ctx       context.Context
	)

	newPipeline := func() *daemon.Pipeline {
		cache := daemon.NewL1Cache(contextblock.New(provider, 0, quietLogger))
		return daemon.NewPipeline(
			extract.NewExtractor(caller, quietLogger),
			extract.NewClassifier(caller, quietLogger),
			provider,
			publisher,
			cache,
			quietLogger,
		)
	}

	BeforeEach(func() {
		var err error
		provider, err = native.New(filepath.Join(GinkgoT().TempDir(), "memory.db"), native.Options{Logger: quietLogger})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(provider.Close)
		publisher = nop.NewRecording()
		caller = &scriptedCaller{}
		ctx = context.Background()
	})

	It("stores a fresh fact as a new memory", func() {
		caller.responses = []string{
			`[{"content": "User prefers tea over coffee", "type": "preference", "importance": 6}]`,
		}

		err := newPipeline().Process(ctx, item("I prefer tea over coffee"))
		Expect(err).NotTo(HaveOccurred())

		entries, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Content).To(Equal("User prefers tea over coffee"))
		Expect(entries[0].Source).To(Equal(memory.SourceInferred))

		events := publisher.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(eventstream.KindMemoryStored))
	})

	It("supersedes a contradicted memory, preserving history", func() {
		oldID, err := provider.Add(ctx, &memory.Entry{
			UserID:     "u1",
			Content:    "User prefers tea over coffee",
			Type:       memory.TypePreference,
			Importance: 6,
		})
		Expect(err).NotTo(HaveOccurred())

		caller.responses = []string{
			`[{"content": "User prefers coffee over tea now", "type": "preference", "importance": 6}]`,
			fmt.Sprintf(`[{"action": "SUPERSEDE", "memory_id": "%s", "reason": "preference changed"}]`, oldID),
		}

		err = newPipeline().Process(ctx, item("actually I prefer coffee now"))
		Expect(err).NotTo(HaveOccurred())

		old, err := provider.Get(ctx, oldID)
		Expect(err).NotTo(HaveOccurred())
		Expect(old.Active).To(BeFalse())
		Expect(old.SupersededBy).NotTo(BeEmpty())

		active, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(1))
		Expect(active[0].Content).To(ContainSubstring("coffee over tea"))

		events := publisher.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(eventstream.KindMemorySuperseded))
		Expect(events[0].SupersededID).To(Equal(oldID))
	})

	It("skips duplicates the classifier marks NOOP", func() {
		existingID, err := provider.Add(ctx, &memory.Entry{
			UserID:  "u1",
			Content: "User prefers tea over coffee",
			Type:    memory.TypePreference,
		})
		Expect(err).NotTo(HaveOccurred())

		caller.responses = []string{
			`[{"content": "User prefers tea over coffee", "type": "preference", "importance": 6}]`,
			fmt.Sprintf(`[{"action": "NOOP", "memory_id": "%s", "reason": "duplicate"}]`, existingID),
		}

		err = newPipeline().Process(ctx, item("I prefer tea over coffee"))
		Expect(err).NotTo(HaveOccurred())

		entries, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(publisher.Events()).To(BeEmpty())
	})

	It("does nothing when extraction yields no notes", func() {
		caller.responses = []string{`[]`}

		err := newPipeline().Process(ctx, item("nice weather today"))
		Expect(err).NotTo(HaveOccurred())

		entries, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("survives an unavailable LLM by dropping the turn", func() {
		caller.err = llm.ErrUnavailable

		err := newPipeline().Process(ctx, item("I prefer tea over coffee"))
		Expect(err).NotTo(HaveOccurred())

		entries, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("tracks commitment notes in the commitment table", func() {
		caller.responses = []string{
			`[{"content": "Send the report to Sarah by Friday", "type": "commitment", "importance": 7,
			   "metadata": {"target_person": "Sarah"}}]`,
		}

		err := newPipeline().Process(ctx, item("I'll send the report to Sarah by Friday"))
		Expect(err).NotTo(HaveOccurred())

		commitments, err := provider.ListCommitments(ctx, "u1", memory.CommitmentActive, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(commitments).To(HaveLen(1))
		Expect(commitments[0].TargetPerson).To(Equal("Sarah"))
	})
})
