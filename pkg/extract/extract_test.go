package extract_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
)

// fakeCaller returns a canned response and records what it was asked.
type fakeCaller struct {
	response string
	err      error
	calls    int
	prompt   string
}

func (f *fakeCaller) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.response, f.err
}

func (f *fakeCaller) Model() string { return "fake" }

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("Extractor", func() {
	var caller *fakeCaller

	extractor := func() *extract.Extractor {
		return extract.NewExtractor(caller, quietLogger)
	}

	BeforeEach(func() {
		caller = &fakeCaller{}
	})

	It("parses a plain JSON array of notes", func() {
		caller.response = `[{"content": "User prefers tea over coffee", "type": "preference", "importance": 6}]`

		notes := extractor().Extract(context.Background(), "I prefer tea", "noted", "s1")
		Expect(notes).To(HaveLen(1))
		Expect(notes[0].Content).To(Equal("User prefers tea over coffee"))
		Expect(notes[0].Type).To(Equal(memory.TypePreference))
		Expect(notes[0].Importance).To(Equal(6))
	})

	It("tolerates markdown code fences around the array", func() {
		caller.response = "```json\n[{\"content\": \"User works at Acme\", \"type\": \"fact\", \"importance\": 5}]\n```"

		notes := extractor().Extract(context.Background(), "I work at Acme", "cool", "s1")
		Expect(notes).To(HaveLen(1))
		Expect(notes[0].Content).To(Equal("User works at Acme"))
	})

	It("tolerates prose surrounding the array", func() {
		caller.response = `Here are the extracted facts: [{"content": "User has a dog named Rex", "importance": 4}] hope that helps!`

		notes := extractor().Extract(context.Background(), "my dog Rex", "aww", "s1")
		Expect(notes).To(HaveLen(1))
	})

	It("returns no notes when the call fails", func() {
		caller.err = fmt.Errorf("connect: %w", llm.ErrUnavailable)

		notes := extractor().Extract(context.Background(), "I prefer tea", "noted", "s1")
		Expect(notes).To(BeEmpty())
	})

	It("returns no notes for unparseable output", func() {
		caller.response = "I could not find any facts in this conversation."

		notes := extractor().Extract(context.Background(), "hello there", "hi", "s1")
		Expect(notes).To(BeEmpty())
	})

	It("clamps importance and defaults missing types", func() {
		caller.response = `[
			{"content": "A", "importance": 42},
			{"content": "B", "type": "preference", "importance": -3}
		]`

		notes := extractor().Extract(context.Background(), "x", "y", "s1")
		Expect(notes).To(HaveLen(2))
		Expect(notes[0].Importance).To(Equal(10))
		Expect(notes[0].Type).To(Equal(memory.TypeFact))
		Expect(notes[1].Importance).To(Equal(1))
	})

	It("keeps truncated input valid UTF-8", func() {
		caller.response = "[]"

		// Long enough to hit the input cap, with an ascii prefix so the
		// byte cut would land inside a two-byte rune.
		long := "a" + strings.Repeat("é", 2200)
		extractor().Extract(context.Background(), long, long, "s1")

		Expect(utf8.ValidString(caller.prompt)).To(BeTrue())
	})

	It("drops notes with empty content", func() {
		caller.response = `[{"content": "   ", "importance": 5}, {"content": "real", "importance": 5}]`

		notes := extractor().Extract(context.Background(), "x", "y", "s1")
		Expect(notes).To(HaveLen(1))
		Expect(notes[0].Content).To(Equal("real"))
	})
})

var _ = Describe("Classifier", func() {
	var caller *fakeCaller

	classifier := func() *extract.Classifier {
		return extract.NewClassifier(caller, quietLogger)
	}

	BeforeEach(func() {
		caller = &fakeCaller{}
	})

	It("returns a single ADD without calling the model when there are no candidates", func() {
		actions := classifier().Classify(context.Background(), "User prefers tea", nil)

		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Action).To(Equal(extract.ActionAdd))
		Expect(caller.calls).To(BeZero())
	})

	It("parses supersede verdicts against offered candidates", func() {
		caller.response = `[{"action": "SUPERSEDE", "memory_id": "m1", "reason": "contradicts"}]`

		actions := classifier().Classify(context.Background(), "User now prefers coffee", []extract.Candidate{
			{ID: "m1", Content: "User prefers tea"},
		})

		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Action).To(Equal(extract.ActionSupersede))
		Expect(actions[0].MemoryID).To(Equal("m1"))
	})

	It("coerces unknown verdicts to ADD", func() {
		caller.response = `[{"action": "MERGE", "memory_id": "m1"}]`

		actions := classifier().Classify(context.Background(), "fact", []extract.Candidate{
			{ID: "m1", Content: "existing"},
		})

		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Action).To(Equal(extract.ActionAdd))
		Expect(actions[0].MemoryID).To(BeEmpty())
	})

	It("coerces verdicts referencing unknown memory ids to ADD", func() {
		caller.response = `[{"action": "UPDATE", "memory_id": "never-offered"}]`

		actions := classifier().Classify(context.Background(), "fact", []extract.Candidate{
			{ID: "m1", Content: "existing"},
		})

		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Action).To(Equal(extract.ActionAdd))
	})

	It("defaults to a single ADD when the call fails", func() {
		caller.err = llm.ErrTimeout

		actions := classifier().Classify(context.Background(), "fact", []extract.Candidate{
			{ID: "m1", Content: "existing"},
		})

		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Action).To(Equal(extract.ActionAdd))
	})

	It("defaults to a single ADD on unparseable output", func() {
		caller.response = "these look like the same thing to me"

		actions := classifier().Classify(context.Background(), "fact", []extract.Candidate{
			{ID: "m1", Content: "existing"},
		})

		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Action).To(Equal(extract.ActionAdd))
	})
})
