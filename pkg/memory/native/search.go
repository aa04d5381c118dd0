package native

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Score weights. Relevance dominates; importance and recency break ties so
// that a stale low-importance match doesn't crowd out fresher knowledge.
const (
	weightRelevance  = 0.6
	weightImportance = 0.25
	weightRecency    = 0.15

	// recencyHalfLife is the age at which the recency component halves.
	recencyHalfLife = 30 * 24 * time.Hour

	// candidateMultiplier over-fetches per index before blending, so hybrid
	// ranking has enough candidates from both sides.
	candidateMultiplier = 3
)

// Search returns entries matching the request, scored and sorted descending.
// Hybrid mode degrades to keyword when no vector index is configured.
func (p *Provider) Search(ctx context.Context, req memory.SearchRequest) ([]*memory.Entry, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	mode := req.Mode
	if mode == "" {
		mode = memory.ModeHybrid
	}
	if mode != memory.ModeKeyword && (p.embedder == nil || p.vectors == nil) {
		mode = memory.ModeKeyword
	}

	keyword := map[string]float64{}
	semantic := map[string]float64{}

	if mode == memory.ModeKeyword || mode == memory.ModeHybrid {
		ks, err := p.keywordScores(ctx, req.Query, req.Limit*candidateMultiplier)
		if err != nil {
			return nil, err
		}
		keyword = ks
	}

	if mode == memory.ModeSemantic || mode == memory.ModeHybrid {
		ss, err := p.semanticScores(ctx, req.Query, req.Filter.UserID, req.Limit*candidateMultiplier)
		if err != nil {
			// Semantic lookup failing should not take keyword search down
			// with it in hybrid mode.
			if mode == memory.ModeSemantic {
				return nil, err
			}
			p.logger.Warn("semantic search failed, using keyword only", "error", err)
		} else {
			semantic = ss
		}
	}

	ids := make([]string, 0, len(keyword)+len(semantic))
	seen := map[string]struct{}{}
	for id := range keyword {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range semantic {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	entries, err := p.fetchFiltered(ctx, ids, req.Filter)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, e := range entries {
		relevance := math.Max(keyword[e.ID], semantic[e.ID])
		importance := float64(e.Importance) / 10
		age := now.Sub(e.CreatedAt)
		recency := math.Exp2(-float64(age) / float64(recencyHalfLife))

		e.Score = weightRelevance*relevance +
			weightImportance*importance +
			weightRecency*recency
		e.ScoreBreakdown = map[string]float64{
			"keyword":    keyword[e.ID],
			"semantic":   semantic[e.ID],
			"importance": importance,
			"recency":    recency,
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

// keywordScores queries the FTS5 index and returns normalized scores in
// (0,1] keyed by memory id.
func (p *Provider) keywordScores(ctx context.Context, query string, limit int) (map[string]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return map[string]float64{}, nil
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT mem_id, bm25(memories_fts) FROM memories_fts
		 WHERE memories_fts MATCH ? ORDER BY bm25(memories_fts) LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	scores := map[string]float64{}
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		// bm25 ranks are negative, more negative is better.
		scores[id] = 1 / (1 + math.Exp(rank))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword hits: %w", err)
	}
	return scores, nil
}

// semanticScores embeds the query and returns similarity scores keyed by
// memory id.
func (p *Provider) semanticScores(ctx context.Context, query, userID string, topK int) (map[string]float64, error) {
	emb, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := p.vectors.Query(ctx, userID, emb, topK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = float64(r.Score)
	}
	return scores, nil
}

// fetchFiltered loads the candidate entries that pass the filter.
func (p *Provider) fetchFiltered(ctx context.Context, ids []string, f memory.Filter) ([]*memory.Entry, error) {
	var (
		conds []string
		args  []any
	)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	conds = append(conds, "id IN ("+placeholders+")")
	for _, id := range ids {
		args = append(args, id)
	}

	if !f.IncludeInactive {
		conds = append(conds, "active = 1")
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(f.Types) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Types)), ",")
		conds = append(conds, "type IN ("+ph+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Sources) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Sources)), ",")
		conds = append(conds, "source IN ("+ph+")")
		for _, s := range f.Sources {
			args = append(args, string(s))
		}
	}
	if f.MinImportance > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, f.MinImportance)
	}
	if f.MaxImportance > 0 {
		conds = append(conds, "importance <= ?")
		args = append(args, f.MaxImportance)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until.UTC())
	}

	rows, err := p.db.QueryContext(ctx,
		selectEntry+" WHERE "+strings.Join(conds, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	if len(f.Tags) > 0 {
		filtered := entries[:0]
		for _, e := range entries {
			if hasAnyTag(e.Tags, f.Tags) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return entries, nil
}

// ftsQuery converts free text into a safe FTS5 OR-of-terms match expression.
// FTS5 treats bare punctuation as syntax, so each term is quoted.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		cleaned := strings.Trim(f, `"'`)
		cleaned = strings.ReplaceAll(cleaned, `"`, "")
		if cleaned == "" {
			continue
		}
		terms = append(terms, `"`+cleaned+`"`)
	}
	return strings.Join(terms, " OR ")
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
