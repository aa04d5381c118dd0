// Package extract turns conversation turns into typed memory notes and
// classifies how new facts relate to existing memories.
//
// Both operations are LLM-backed and both are soft-fail by design: a timeout,
// transport error, or malformed completion never propagates to the queue
// worker. The extractor degrades to "no notes"; the classifier degrades to a
// single ADD, trading an occasional duplicate for never losing information.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
)

// maxInputChars bounds how much of a message is sent to the model.
const maxInputChars = 4000

// Note is a single extracted piece of knowledge, not yet persisted.
type Note struct {
	Content    string         `json:"content"`
	Type       memory.Type    `json:"type"`
	Importance int            `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Extractor extracts notes from conversation turns via a single LLM call.
type Extractor struct {
	caller llm.Caller
	logger *slog.Logger
}

// NewExtractor creates an Extractor using the given completion caller.
func NewExtractor(caller llm.Caller, logger *slog.Logger) *Extractor {
	return &Extractor{
		caller: caller,
		logger: logger,
	}
}

// Extract returns zero or more notes for the turn. It never returns an error
// for LLM or parse failures; those are logged at debug level and produce an
// empty list, accepted information loss.
func (e *Extractor) Extract(ctx context.Context, userMessage, assistantResponse, sessionID string) []Note {
	prompt := buildExtractionPrompt(
		truncate(userMessage, maxInputChars),
		truncate(assistantResponse, maxInputChars),
	)

	response, err := e.caller.Complete(ctx, prompt)
	if err != nil {
		e.logger.Debug("extraction call failed, dropping turn",
			"session_id", sessionID,
			"error", err,
		)
		return nil
	}

	notes, err := parseNotes(response)
	if err != nil {
		e.logger.Debug("extraction response unparseable, dropping turn",
			"session_id", sessionID,
			"error", err,
		)
		return nil
	}

	for i := range notes {
		notes[i].Importance = memory.ClampImportance(notes[i].Importance)
		if notes[i].Type == "" {
			notes[i].Type = memory.TypeFact
		}
	}

	return notes
}

func buildExtractionPrompt(userMessage, assistantResponse string) string {
	return `Extract durable facts worth remembering from this conversation exchange.
Return ONLY a valid JSON array (possibly empty). Each element:

{
  "content": "one self-contained fact, stated in third person",
  "type": "one of: fact, preference, event, insight, relationship, commitment",
  "importance": 1-10
}

Only include information that will still matter in future conversations:
stable facts about the user, preferences, commitments they made, significant
events, relationships, and insights. Skip pleasantries, transient details,
and anything about this assistant exchange itself.

User: ` + userMessage + `
Assistant: ` + assistantResponse
}

// parseNotes parses the model output into notes, tolerating markdown code
// fences and prose around the JSON array.
func parseNotes(response string) ([]Note, error) {
	jsonStr := extractJSONArray(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var notes []Note
	if err := json.Unmarshal([]byte(jsonStr), &notes); err != nil {
		return nil, fmt.Errorf("unmarshal notes: %w", err)
	}

	// Drop notes with no content rather than storing empty rows.
	filtered := notes[:0]
	for _, n := range notes {
		if strings.TrimSpace(n.Content) != "" {
			filtered = append(filtered, n)
		}
	}

	return filtered, nil
}

// extractJSONArray pulls the outermost JSON array out of a response that may
// be wrapped in markdown code fences or surrounded by prose.
func extractJSONArray(response string) string {
	s := strings.TrimSpace(response)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}

	return s[start : end+1]
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
