package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/queue"
)

// classifyCandidates is how many existing memories are fetched per note for
// the add/update/supersede/noop decision.
const classifyCandidates = 5

// Pipeline turns one dequeued conversation turn into stored memories.
type Pipeline struct {
	extractor  *extract.Extractor
	classifier *extract.Classifier
	provider   memory.Provider
	publisher  eventstream.Publisher
	cache      *L1Cache
	logger     *slog.Logger
}

// NewPipeline wires the extraction pipeline stages together.
func NewPipeline(
	extractor *extract.Extractor,
	classifier *extract.Classifier,
	provider memory.Provider,
	publisher eventstream.Publisher,
	cache *L1Cache,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		classifier: classifier,
		provider:   provider,
		publisher:  publisher,
		cache:      cache,
		logger:     logger,
	}
}

// Process handles one queue item end to end. Extraction and classification
// soft-fail internally; only storage errors propagate, so the item is retried
// as failed rather than silently lost.
func (p *Pipeline) Process(ctx context.Context, item queue.Item) error {
	turn := item.Turn

	notes := p.extractor.Extract(ctx, turn.UserMessage, turn.AssistantResponse, turn.SessionID)
	if len(notes) == 0 {
		return nil
	}

	stored := 0
	var firstErr error
	for _, note := range notes {
		if err := p.storeNote(ctx, turn.UserID, turn.Channel, note); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("storing extracted note failed",
				"user_id", turn.UserID,
				"error", err,
			)
			continue
		}
		stored++
	}

	if stored > 0 {
		p.cache.Invalidate(turn.UserID)
		p.logger.Debug("turn processed",
			"user_id", turn.UserID,
			"session_id", turn.SessionID,
			"notes", len(notes),
			"stored", stored,
		)
	}

	return firstErr
}

// storeNote classifies the note against existing memories and applies the
// resulting actions.
func (p *Pipeline) storeNote(ctx context.Context, userID, channel string, note extract.Note) error {
	candidates := p.findCandidates(ctx, userID, note.Content)

	actions := p.classifier.Classify(ctx, note.Content, candidates)

	var firstErr error
	for _, action := range actions {
		if err := p.applyAction(ctx, userID, channel, note, action); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pipeline) findCandidates(ctx context.Context, userID, content string) []extract.Candidate {
	entries, err := p.provider.Search(ctx, memory.SearchRequest{
		Query:  content,
		Limit:  classifyCandidates,
		Filter: memory.Filter{UserID: userID},
	})
	if err != nil {
		// No candidates means the classifier degrades to ADD, which is the
		// safe direction.
		p.logger.Warn("candidate search failed", "user_id", userID, "error", err)
		return nil
	}

	candidates := make([]extract.Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, extract.Candidate{ID: e.ID, Content: e.Content})
	}
	return candidates
}

func (p *Pipeline) applyAction(ctx context.Context, userID, channel string, note extract.Note, action extract.Action) error {
	switch action.Action {
	case extract.ActionNoop:
		return nil

	case extract.ActionUpdate:
		meta := map[string]any{"updated_from": note.Content}
		if err := p.provider.Update(ctx, action.MemoryID, note.Content, meta); err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				return p.addNote(ctx, userID, channel, note)
			}
			return fmt.Errorf("update memory: %w", err)
		}
		p.publish(ctx, eventstream.Stored(userID, action.MemoryID))
		return nil

	case extract.ActionSupersede:
		sp, ok := p.provider.(memory.SupersessionProvider)
		if !ok {
			// Backend cannot supersede; store alongside rather than lose the
			// newer fact.
			return p.addNote(ctx, userID, channel, note)
		}
		replacement, err := sp.Supersede(ctx, action.MemoryID, note.Content, action.Reason)
		if err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				return p.addNote(ctx, userID, channel, note)
			}
			return fmt.Errorf("supersede memory: %w", err)
		}
		p.publish(ctx, eventstream.Superseded(userID, replacement.ID, action.MemoryID))
		return nil

	default: // ActionAdd and anything the classifier failed to coerce
		return p.addNote(ctx, userID, channel, note)
	}
}

func (p *Pipeline) addNote(ctx context.Context, userID, channel string, note extract.Note) error {
	entry := &memory.Entry{
		UserID:     userID,
		Content:    note.Content,
		Type:       note.Type,
		Source:     memory.SourceInferred,
		Importance: note.Importance,
		Metadata:   note.Metadata,
	}

	id, err := p.provider.Add(ctx, entry)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}

	if note.Type == memory.TypeCommitment {
		p.trackCommitment(ctx, userID, channel, note)
	}

	p.publish(ctx, eventstream.Stored(userID, id))
	return nil
}

// trackCommitment mirrors commitment-typed notes into the commitment table
// when the backend supports it, so they show up in context blocks with their
// own budget.
func (p *Pipeline) trackCommitment(ctx context.Context, userID, channel string, note extract.Note) {
	cp, ok := p.provider.(memory.CommitmentProvider)
	if !ok {
		return
	}

	c := &memory.Commitment{
		UserID:  userID,
		Content: note.Content,
		Channel: channel,
	}
	if due, ok := noteDueDate(note); ok {
		c.DueDate = &due
	}
	if person, ok := note.Metadata["target_person"].(string); ok {
		c.TargetPerson = person
	}

	if _, err := cp.AddCommitment(ctx, c); err != nil {
		p.logger.Warn("tracking commitment failed", "user_id", userID, "error", err)
	}
}

func noteDueDate(note extract.Note) (time.Time, bool) {
	raw, ok := note.Metadata["due_date"].(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *Pipeline) publish(ctx context.Context, event eventstream.Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("event publish failed", "kind", event.Kind, "error", err)
	}
}
