package daemon_test

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/contextblock"
	"github.com/papercomputeco/engram/pkg/daemon"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/memory/native"
)

// axisEmbedder maps contents onto fixed axes so cluster membership is
// deterministic: contents sharing a keyword embed identically.
type axisEmbedder struct{}

func (axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	switch {
	case strings.Contains(text, "ran"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(text, "tea"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (axisEmbedder) Close() error { return nil }

var _ = Describe("Consolidator", func() {
	var (
		provider  *native.Provider
		publisher *nop.Publisher
		caller    *scriptedCaller
		ctx       context.Context
	)

	BeforeEach(func() {
		var err error
		provider, err = native.New(filepath.Join(GinkgoT().TempDir(), "memory.db"), native.Options{Logger: quietLogger})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(provider.Close)
		publisher = nop.NewRecording()
		caller = &scriptedCaller{}
		ctx = context.Background()
	})

	addAged := func(content string) string {
		id, err := provider.Add(ctx, &memory.Entry{
			UserID:     "u1",
			Content:    content,
			Importance: 5,
			CreatedAt:  time.Now().UTC().Add(-10 * 24 * time.Hour),
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	newConsolidator := func(embed bool) *daemon.Consolidator {
		cache := daemon.NewL1Cache(contextblock.New(provider, 0, quietLogger))
		cfg := daemon.ConsolidationConfig{
			MinClusterSize:      2,
			MinAge:              7 * 24 * time.Hour,
			SimilarityThreshold: 0.9,
		}
		if embed {
			return daemon.NewConsolidator(provider, axisEmbedder{}, caller, publisher, cache, cfg, quietLogger)
		}
		return daemon.NewConsolidator(provider, nil, caller, publisher, cache, cfg, quietLogger)
	}

	It("merges a similar cluster into one summary and retires the originals", func() {
		a := addAged("User ran 5k on Monday")
		b := addAged("User ran 10k on Saturday")
		c := addAged("User prefers green tea")

		caller.responses = []string{"User runs regularly, typically 5-10k"}

		Expect(newConsolidator(true).RunOnce(ctx)).To(Succeed())

		for _, id := range []string{a, b} {
			entry, err := provider.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Active).To(BeFalse())
		}

		tea, err := provider.Get(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(tea.Active).To(BeTrue())

		active, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(2))

		events := publisher.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(eventstream.KindMemoryPromoted))
		Expect(events[0].SourceIDs).To(ConsistOf(a, b))
	})

	It("leaves everything alone without an embedder", func() {
		addAged("User ran 5k on Monday")
		addAged("User ran 10k on Saturday")

		Expect(newConsolidator(false).RunOnce(ctx)).To(Succeed())

		active, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(2))
		Expect(publisher.Events()).To(BeEmpty())
	})

	It("keeps the cluster when summarization fails", func() {
		addAged("User ran 5k on Monday")
		addAged("User ran 10k on Saturday")

		caller.responses = nil
		caller.err = llm.ErrUnavailable

		Expect(newConsolidator(true).RunOnce(ctx)).To(Succeed())

		active, err := provider.List(ctx, "u1", 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(2))
	})
})
