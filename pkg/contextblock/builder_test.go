package contextblock_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/contextblock"
	"github.com/papercomputeco/engram/pkg/memory"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeProvider serves canned entries and commitments.
type fakeProvider struct {
	entries     []*memory.Entry
	commitments []*memory.Commitment
	searchErr   error
	listErr     error
}

func (f *fakeProvider) Add(context.Context, *memory.Entry) (string, error) { return "", nil }
func (f *fakeProvider) Get(context.Context, string) (*memory.Entry, error) {
	return nil, memory.ErrNotFound
}
func (f *fakeProvider) Update(context.Context, string, string, map[string]any) error { return nil }
func (f *fakeProvider) Delete(context.Context, string, bool) error                   { return nil }
func (f *fakeProvider) HealthCheck(context.Context) error                            { return nil }
func (f *fakeProvider) Close() error                                                 { return nil }

func (f *fakeProvider) Search(_ context.Context, req memory.SearchRequest) ([]*memory.Entry, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []*memory.Entry
	for _, e := range f.entries {
		if len(req.Filter.Types) > 0 && !typeIn(e.Type, req.Filter.Types) {
			continue
		}
		out = append(out, e)
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (f *fakeProvider) List(context.Context, string, int, int) ([]*memory.Entry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entries, nil
}

func (f *fakeProvider) AddCommitment(context.Context, *memory.Commitment) (string, error) {
	return "", nil
}
func (f *fakeProvider) ListCommitments(context.Context, string, memory.CommitmentStatus, *time.Time) ([]*memory.Commitment, error) {
	return f.commitments, nil
}
func (f *fakeProvider) CompleteCommitment(context.Context, string) error { return nil }
func (f *fakeProvider) CancelCommitment(context.Context, string) error   { return nil }

func typeIn(t memory.Type, types []memory.Type) bool {
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

func entry(content string, typ memory.Type) *memory.Entry {
	return &memory.Entry{
		ID: content, UserID: "u1", Content: content, Type: typ,
		Importance: 5, Active: true, CreatedAt: time.Now(),
	}
}

var _ = Describe("Builder", func() {
	var provider *fakeProvider

	BeforeEach(func() {
		provider = &fakeProvider{}
	})

	It("assembles profile, relevant, and commitment sections", func() {
		due := time.Now().Add(48 * time.Hour)
		provider.entries = []*memory.Entry{
			entry("User prefers tea over coffee", memory.TypePreference),
			entry("User works at Acme", memory.TypeFact),
		}
		provider.commitments = []*memory.Commitment{
			{Content: "send the report", TargetPerson: "Sarah", DueDate: &due, Status: memory.CommitmentActive},
		}

		block := contextblock.New(provider, 1000, quietLogger).Build(context.Background(), "u1", "what should I drink?")

		Expect(block).To(ContainSubstring("About the user:"))
		Expect(block).To(ContainSubstring("prefers tea"))
		Expect(block).To(ContainSubstring("Relevant to this conversation:"))
		Expect(block).To(ContainSubstring("Open commitments:"))
		Expect(block).To(ContainSubstring("send the report (to Sarah)"))
	})

	It("returns an empty block when nothing is known", func() {
		block := contextblock.New(provider, 1000, quietLogger).Build(context.Background(), "u1", "hello")
		Expect(block).To(BeEmpty())
	})

	It("never exceeds the character budget implied by max tokens", func() {
		for i := 0; i < 100; i++ {
			provider.entries = append(provider.entries,
				entry(fmt.Sprintf("fact number %d about the user with plenty of padding text", i), memory.TypeFact))
		}

		maxTokens := 100
		block := contextblock.New(provider, maxTokens, quietLogger).Build(context.Background(), "u1", "fact")

		Expect(len(block)).To(BeNumerically("<=", maxTokens*4))
	})

	It("keeps a capped block valid UTF-8", func() {
		// Each section fills its share exactly, so the joined block runs a
		// few bytes over the budget and the final cap fires. The commitment
		// content puts a two-byte rune across the cut point.
		provider.entries = []*memory.Entry{
			entry("xx", memory.TypeEvent),
			entry(strings.Repeat("é", 11), memory.TypePreference),
		}
		provider.commitments = []*memory.Commitment{
			{Content: "ééx", Status: memory.CommitmentActive},
		}

		maxTokens := 25
		block := contextblock.New(provider, maxTokens, quietLogger).Build(context.Background(), "u1", "fact")

		Expect(len(block)).To(BeNumerically("<=", maxTokens*4))
		Expect(utf8.ValidString(block)).To(BeTrue())
	})

	It("omits a failing section instead of failing the block", func() {
		provider.searchErr = fmt.Errorf("index offline")
		provider.listErr = fmt.Errorf("db offline")
		provider.commitments = []*memory.Commitment{
			{Content: "call the dentist", Status: memory.CommitmentActive},
		}

		block := contextblock.New(provider, 1000, quietLogger).Build(context.Background(), "u1", "hello")

		Expect(block).NotTo(ContainSubstring("About the user:"))
		Expect(block).To(ContainSubstring("Open commitments:"))
		Expect(block).To(ContainSubstring("call the dentist"))
	})

	It("truncates at whole lines inside a section", func() {
		provider.entries = []*memory.Entry{
			entry("short fact", memory.TypeFact),
			entry(strings.Repeat("very long fact ", 100), memory.TypeFact),
		}

		block := contextblock.New(provider, 50, quietLogger).Build(context.Background(), "u1", "")

		Expect(block).To(ContainSubstring("short fact"))
		Expect(block).NotTo(ContainSubstring("very long fact"))
	})
})

var _ = Describe("EstimateTokens", func() {
	It("estimates four characters per token", func() {
		Expect(contextblock.EstimateTokens("abcdefgh")).To(Equal(2))
		Expect(contextblock.EstimateTokens("")).To(Equal(0))
	})
})
