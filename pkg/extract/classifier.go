package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/engram/pkg/llm"
)

// maxCandidates bounds how many existing memories are compared per fact.
const maxCandidates = 10

// ActionKind is the relationship of a new fact to an existing memory.
type ActionKind string

const (
	ActionAdd       ActionKind = "ADD"
	ActionUpdate    ActionKind = "UPDATE"
	ActionSupersede ActionKind = "SUPERSEDE"
	ActionNoop      ActionKind = "NOOP"
)

// Action is one classification verdict against a candidate memory.
type Action struct {
	Action   ActionKind `json:"action"`
	MemoryID string     `json:"memory_id,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Candidate is an existing memory offered to the classifier for comparison.
type Candidate struct {
	ID      string
	Content string
}

// Classifier decides whether a new fact adds to, updates, supersedes, or
// duplicates existing knowledge.
type Classifier struct {
	caller llm.Caller
	logger *slog.Logger
}

// NewClassifier creates a Classifier using the given completion caller.
func NewClassifier(caller llm.Caller, logger *slog.Logger) *Classifier {
	return &Classifier{
		caller: caller,
		logger: logger,
	}
}

// Classify returns one action per relevant candidate. With no candidates the
// fact is trivially new: a single ADD is returned without calling the LLM.
// Any call or parse failure also degrades to a single ADD: an occasional
// duplicate beats lost information, and duplicates are absorbed later by a
// NOOP classification or consolidation.
func (c *Classifier) Classify(ctx context.Context, fact string, candidates []Candidate) []Action {
	if len(candidates) == 0 {
		return []Action{{Action: ActionAdd, Reason: "no existing memories to compare"}}
	}

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	prompt := buildClassifyPrompt(fact, candidates)

	response, err := c.caller.Complete(ctx, prompt)
	if err != nil {
		c.logger.Debug("classification call failed, defaulting to ADD", "error", err)
		return []Action{{Action: ActionAdd, Reason: "classification unavailable"}}
	}

	actions, err := parseActions(response)
	if err != nil || len(actions) == 0 {
		c.logger.Debug("classification response unparseable, defaulting to ADD", "error", err)
		return []Action{{Action: ActionAdd, Reason: "classification unparseable"}}
	}

	// Coerce unknown verdicts to ADD and drop references to memories that
	// were never offered as candidates.
	known := make(map[string]struct{}, len(candidates))
	for _, cand := range candidates {
		known[cand.ID] = struct{}{}
	}

	for i := range actions {
		switch actions[i].Action {
		case ActionAdd, ActionUpdate, ActionSupersede, ActionNoop:
		default:
			actions[i].Action = ActionAdd
			actions[i].MemoryID = ""
		}

		if actions[i].MemoryID != "" {
			if _, ok := known[actions[i].MemoryID]; !ok {
				actions[i].Action = ActionAdd
				actions[i].MemoryID = ""
			}
		}

		if actions[i].Action != ActionAdd && actions[i].MemoryID == "" {
			actions[i].Action = ActionAdd
		}
	}

	return actions
}

func buildClassifyPrompt(fact string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString(`A new fact was learned about the user. Compare it against each existing memory and classify the relationship.

Actions:
- ADD: the fact is genuinely new information, unrelated to this memory
- UPDATE: the fact refines or extends this memory without contradicting it
- SUPERSEDE: the fact contradicts or replaces this memory
- NOOP: the fact duplicates this memory, nothing to store

Return ONLY a valid JSON array:
[{"action": "ADD|UPDATE|SUPERSEDE|NOOP", "memory_id": "id or empty", "reason": "brief"}]

New fact: `)
	b.WriteString(fact)
	b.WriteString("\n\nExisting memories:\n")
	for _, cand := range candidates {
		fmt.Fprintf(&b, "- id=%s: %s\n", cand.ID, cand.Content)
	}
	return b.String()
}

func parseActions(response string) ([]Action, error) {
	jsonStr := extractJSONArray(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var actions []Action
	if err := json.Unmarshal([]byte(jsonStr), &actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}

	return actions, nil
}
