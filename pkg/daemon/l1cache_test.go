package daemon_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/contextblock"
	"github.com/papercomputeco/engram/pkg/daemon"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/memory/native"
)

var _ = Describe("L1Cache", func() {
	var (
		provider *native.Provider
		cache    *daemon.L1Cache
		ctx      context.Context
	)

	BeforeEach(func() {
		var err error
		provider, err = native.New(filepath.Join(GinkgoT().TempDir(), "memory.db"), native.Options{Logger: quietLogger})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(provider.Close)
		cache = daemon.NewL1Cache(contextblock.New(provider, 0, quietLogger))
		ctx = context.Background()
	})

	It("serves the cached block until invalidated", func() {
		_, err := provider.Add(ctx, &memory.Entry{
			UserID: "u1", Content: "User prefers tea over coffee",
			Type: memory.TypePreference, Importance: 6,
		})
		Expect(err).NotTo(HaveOccurred())

		first := cache.Get(ctx, "u1", "")
		Expect(first).To(ContainSubstring("tea"))

		// New knowledge is invisible until the cache is invalidated.
		_, err = provider.Add(ctx, &memory.Entry{
			UserID: "u1", Content: "User is allergic to shellfish",
			Type: memory.TypeFact, Importance: 8,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(cache.Get(ctx, "u1", "")).To(Equal(first))

		cache.Invalidate("u1")
		rebuilt := cache.Get(ctx, "u1", "")
		Expect(rebuilt).To(ContainSubstring("shellfish"))
	})

	It("rebuilds when the current message changes", func() {
		_, err := provider.Add(ctx, &memory.Entry{
			UserID: "u1", Content: "User prefers tea over coffee",
			Type: memory.TypePreference, Importance: 6,
		})
		Expect(err).NotTo(HaveOccurred())

		generic := cache.Get(ctx, "u1", "hello")
		specific := cache.Get(ctx, "u1", "what do I drink, tea or coffee?")
		Expect(specific).To(ContainSubstring("Relevant to this conversation:"))
		Expect(generic).NotTo(Equal(specific))
	})
})
