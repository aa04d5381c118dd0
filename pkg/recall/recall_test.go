package recall_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/recall"
)

var _ = Describe("Decide", func() {
	It("searches on the first messages of a session", func() {
		d := recall.Decide("hey", 0, nil)
		Expect(d.Search).To(BeTrue())
		Expect(d.Reason).To(Equal(recall.ReasonColdStart))

		d = recall.Decide("hey again", 1, nil)
		Expect(d.Search).To(BeTrue())
	})

	It("searches on personal references", func() {
		d := recall.Decide("when is my dentist appointment?", 5, nil)
		Expect(d.Search).To(BeTrue())
		Expect(d.Reason).To(Equal(recall.ReasonPersonalRef))
	})

	It("searches when a novel entity appears", func() {
		d := recall.Decide("did anything come up about Atlas?", 5, []string{"we talked about lunch"})
		Expect(d.Search).To(BeTrue())
		Expect(d.Reason).To(Equal(recall.ReasonNovelEntity))
	})

	It("does not treat known entities as novel", func() {
		ctx := []string{"the Atlas launch went well"}
		d := recall.Decide("anything else about atlas today?", 5, ctx)
		Expect(d.Reason).NotTo(Equal(recall.ReasonNovelEntity))
	})

	It("searches on recall phrases", func() {
		d := recall.Decide("remember when we discussed the budget?", 5, nil)
		Expect(d.Search).To(BeTrue())
		Expect(d.Reason).To(Equal(recall.ReasonRecallPhrase))
	})

	It("skips short messages with no other signal", func() {
		d := recall.Decide("sounds good to me", 5, nil)
		Expect(d.Search).To(BeFalse())
		Expect(d.Reason).To(Equal(recall.ReasonTooShort))
	})

	It("skips long messages with no signal", func() {
		d := recall.Decide(
			"could you draft a short paragraph describing the weather today in plain language please",
			5, nil)
		Expect(d.Search).To(BeFalse())
		Expect(d.Reason).To(Equal(recall.ReasonNoSignal))
	})
})

var _ = Describe("Dedup", func() {
	entry := func(content string) *memory.Entry {
		return &memory.Entry{ID: content, Content: content}
	}

	It("drops entries already present in the conversation", func() {
		entries := []*memory.Entry{
			entry("User prefers tea over coffee in the mornings"),
			entry("User has a standing Thursday meeting with finance"),
		}
		ctx := []string{"I know you prefer tea over coffee in the mornings"}

		kept := recall.Dedup(entries, ctx)
		Expect(kept).To(HaveLen(1))
		Expect(kept[0].Content).To(ContainSubstring("Thursday"))
	})

	It("keeps everything when the context is empty", func() {
		entries := []*memory.Entry{entry("User prefers tea")}
		Expect(recall.Dedup(entries, nil)).To(HaveLen(1))
	})

	It("keeps entries with no meaningful overlap", func() {
		entries := []*memory.Entry{entry("User is allergic to shellfish")}
		ctx := []string{"let's plan the sprint retrospective for tomorrow"}
		Expect(recall.Dedup(entries, ctx)).To(HaveLen(1))
	})
})
