// Package contextblock assembles the memory context block injected ahead of
// a conversation: a token-budgeted digest of who the user is, what is
// relevant to the current message, and what they have committed to.
package contextblock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/papercomputeco/engram/pkg/memory"
)

// DefaultMaxTokens bounds the whole block when no budget is configured.
const DefaultMaxTokens = 1000

// charsPerToken is the estimation ratio used for budgeting. Rough but
// consistent with how the budget is meant to be read: a ceiling, not an
// exact count.
const charsPerToken = 4

// Section budgets as fractions of the whole block. Profile gets the largest
// share because it is useful on every message; the relevant section earns its
// share only when the query actually matches something.
const (
	profileShare    = 0.4
	relevantShare   = 0.35
	commitmentShare = 0.25
)

// Builder assembles context blocks from a memory provider.
type Builder struct {
	provider  memory.Provider
	maxTokens int
	logger    *slog.Logger
}

// New creates a Builder. maxTokens <= 0 uses DefaultMaxTokens.
func New(provider memory.Provider, maxTokens int, logger *slog.Logger) *Builder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Builder{
		provider:  provider,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// EstimateTokens approximates the token count of a string.
func EstimateTokens(s string) int {
	return len(s) / charsPerToken
}

// Build assembles the block for a user and their current message. A failing
// section is omitted rather than failing the whole block; an empty result
// means nothing useful is known yet.
func (b *Builder) Build(ctx context.Context, userID, currentMessage string) string {
	budget := b.maxTokens * charsPerToken

	var sections []string

	if s := b.profileSection(ctx, userID, int(float64(budget)*profileShare)); s != "" {
		sections = append(sections, s)
	}
	if s := b.relevantSection(ctx, userID, currentMessage, int(float64(budget)*relevantShare)); s != "" {
		sections = append(sections, s)
	}
	if s := b.commitmentSection(ctx, userID, int(float64(budget)*commitmentShare)); s != "" {
		sections = append(sections, s)
	}

	if len(sections) == 0 {
		return ""
	}

	block := strings.Join(sections, "\n\n")
	if len(block) > budget {
		// Back the cut off to a rune boundary so the block stays valid UTF-8.
		for budget > 0 && !utf8.RuneStart(block[budget]) {
			budget--
		}
		block = block[:budget]
	}
	return block
}

// profileSection summarizes stable knowledge: preferences and facts.
func (b *Builder) profileSection(ctx context.Context, userID string, budget int) string {
	entries, err := b.provider.Search(ctx, memory.SearchRequest{
		Query: "user preferences profile facts",
		Limit: 15,
		Mode:  memory.ModeKeyword,
		Filter: memory.Filter{
			UserID: userID,
			Types:  []memory.Type{memory.TypePreference, memory.TypeFact},
		},
	})
	if err != nil {
		b.logger.Warn("profile section failed, omitting", "user_id", userID, "error", err)
		return ""
	}

	if len(entries) == 0 {
		// Fall back to recency when keyword matching finds nothing; a
		// profile built from recent facts beats no profile.
		entries, err = b.provider.List(ctx, userID, 15, 0)
		if err != nil {
			b.logger.Warn("profile fallback failed, omitting", "user_id", userID, "error", err)
			return ""
		}
		entries = filterTypes(entries, memory.TypePreference, memory.TypeFact)
	}

	return renderSection("About the user:", entryLines(entries), budget)
}

// relevantSection searches memories against the current message.
func (b *Builder) relevantSection(ctx context.Context, userID, currentMessage string, budget int) string {
	if strings.TrimSpace(currentMessage) == "" {
		return ""
	}

	entries, err := b.provider.Search(ctx, memory.SearchRequest{
		Query:  currentMessage,
		Limit:  10,
		Mode:   memory.ModeHybrid,
		Filter: memory.Filter{UserID: userID},
	})
	if err != nil {
		b.logger.Warn("relevant section failed, omitting", "user_id", userID, "error", err)
		return ""
	}

	return renderSection("Relevant to this conversation:", entryLines(entries), budget)
}

// commitmentSection lists active commitments, due-dated ones first.
func (b *Builder) commitmentSection(ctx context.Context, userID string, budget int) string {
	cp, ok := b.provider.(memory.CommitmentProvider)
	if !ok {
		return ""
	}

	commitments, err := cp.ListCommitments(ctx, userID, memory.CommitmentActive, nil)
	if err != nil {
		b.logger.Warn("commitment section failed, omitting", "user_id", userID, "error", err)
		return ""
	}

	lines := make([]string, 0, len(commitments))
	for _, c := range commitments {
		line := "- " + c.Content
		if c.TargetPerson != "" {
			line += " (to " + c.TargetPerson + ")"
		}
		if c.DueDate != nil {
			line += " [due " + c.DueDate.Format("Mon Jan 2") + "]"
		}
		lines = append(lines, line)
	}

	return renderSection("Open commitments:", lines, budget)
}

func entryLines(entries []*memory.Entry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "- "+e.Content)
	}
	return lines
}

// renderSection emits the header plus as many whole lines as fit the budget.
// A section with no surviving lines is omitted entirely.
func renderSection(header string, lines []string, budget int) string {
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(header)
	for _, line := range lines {
		if b.Len()+len(line)+1 > budget {
			break
		}
		b.WriteString("\n")
		b.WriteString(line)
	}

	if b.Len() <= len(header) {
		return ""
	}
	return b.String()
}

func filterTypes(entries []*memory.Entry, types ...memory.Type) []*memory.Entry {
	want := map[memory.Type]struct{}{}
	for _, t := range types {
		want[t] = struct{}{}
	}
	out := entries[:0]
	for _, e := range entries {
		if _, ok := want[e.Type]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Describe returns a one-line summary of the block for logging.
func Describe(block string) string {
	if block == "" {
		return "empty"
	}
	return fmt.Sprintf("%d chars, ~%d tokens", len(block), EstimateTokens(block))
}

// staleAfter is how old a block can get before the daemon's cache rebuilds it.
const staleAfter = 10 * time.Minute

// Stale reports whether a block built at t should be rebuilt.
func Stale(builtAt time.Time) bool {
	return time.Since(builtAt) > staleAfter
}
