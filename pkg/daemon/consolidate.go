package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
)

// ConsolidationConfig holds the consolidation schedule and policy.
type ConsolidationConfig struct {
	// IntervalHours is how often runs fire. At the default of 24 the run is
	// pinned to PreferredHour; other intervals run on a plain @every schedule.
	IntervalHours int

	// PreferredHour is the local hour (0-23) the nightly run fires at.
	PreferredHour int

	// MinClusterSize is the smallest group of related entries worth merging.
	MinClusterSize int

	// MinAge keeps fresh entries out of consolidation; recent memories may
	// still be superseded through the normal pipeline.
	MinAge time.Duration

	// SimilarityThreshold is the cosine similarity above which two entries
	// are considered related.
	SimilarityThreshold float64
}

// Consolidator periodically merges clusters of related old memories into
// denser summaries.
type Consolidator struct {
	provider  memory.ConsolidationProvider
	embedder  embeddings.Embedder
	caller    llm.Caller
	publisher eventstream.Publisher
	cache     *L1Cache
	cfg       ConsolidationConfig
	logger    *slog.Logger

	// runMu serializes runs; a slow nightly pass must not overlap the next.
	runMu sync.Mutex
	cron  *cron.Cron
}

// NewConsolidator creates a Consolidator. embedder may be nil; without it
// runs only report what would be eligible.
func NewConsolidator(
	provider memory.ConsolidationProvider,
	embedder embeddings.Embedder,
	caller llm.Caller,
	publisher eventstream.Publisher,
	cache *L1Cache,
	cfg ConsolidationConfig,
	logger *slog.Logger,
) *Consolidator {
	if cfg.IntervalHours <= 0 {
		cfg.IntervalHours = 24
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 3
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 7 * 24 * time.Hour
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.82
	}
	if cfg.PreferredHour < 0 || cfg.PreferredHour > 23 {
		cfg.PreferredHour = 3
	}

	return &Consolidator{
		provider:  provider,
		embedder:  embedder,
		caller:    caller,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start schedules the recurring run. The schedule stops when ctx is cancelled.
func (c *Consolidator) Start(ctx context.Context) error {
	c.cron = cron.New()
	spec := fmt.Sprintf("0 %d * * *", c.cfg.PreferredHour)
	if c.cfg.IntervalHours != 24 {
		spec = fmt.Sprintf("@every %dh", c.cfg.IntervalHours)
	}
	if _, err := c.cron.AddFunc(spec, func() {
		if err := c.RunOnce(ctx); err != nil {
			c.logger.Error("consolidation run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule consolidation: %w", err)
	}
	c.cron.Start()

	go func() {
		<-ctx.Done()
		c.cron.Stop()
	}()

	return nil
}

// RunOnce consolidates every user's eligible memories.
func (c *Consolidator) RunOnce(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	users, err := c.provider.Users(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.consolidateUser(ctx, userID); err != nil {
			c.logger.Warn("consolidating user failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (c *Consolidator) consolidateUser(ctx context.Context, userID string) error {
	entries, err := c.provider.ListConsolidatable(ctx, userID, c.cfg.MinAge, 200)
	if err != nil {
		return fmt.Errorf("list consolidatable: %w", err)
	}
	if len(entries) < c.cfg.MinClusterSize {
		return nil
	}

	if c.embedder == nil {
		c.logger.Info("consolidation skipped, no embedder configured",
			"user_id", userID,
			"eligible", len(entries),
		)
		return nil
	}

	clusters, err := c.cluster(ctx, entries)
	if err != nil {
		return err
	}

	promoted := 0
	for _, cluster := range clusters {
		if len(cluster) < c.cfg.MinClusterSize {
			continue
		}
		if err := c.promoteCluster(ctx, userID, cluster); err != nil {
			c.logger.Warn("promoting cluster failed",
				"user_id", userID,
				"cluster_size", len(cluster),
				"error", err,
			)
			continue
		}
		promoted++
	}

	if promoted > 0 {
		c.cache.Invalidate(userID)
		c.logger.Info("consolidation complete",
			"user_id", userID,
			"eligible", len(entries),
			"clusters_promoted", promoted,
		)
	}
	return nil
}

// cluster groups entries by single-link cosine similarity: two entries land
// in the same cluster when any pair across them clears the threshold.
func (c *Consolidator) cluster(ctx context.Context, entries []*memory.Entry) ([][]*memory.Entry, error) {
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		v, err := c.embedder.Embed(ctx, e.Content)
		if err != nil {
			return nil, fmt.Errorf("embed entry %s: %w", e.ID, err)
		}
		vectors[i] = v
	}

	parent := make([]int, len(entries))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		parent[find(a)] = find(b)
	}

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if cosine(vectors[i], vectors[j]) >= c.cfg.SimilarityThreshold {
				union(i, j)
			}
		}
	}

	groups := map[int][]*memory.Entry{}
	for i, e := range entries {
		root := find(i)
		groups[root] = append(groups[root], e)
	}

	clusters := make([][]*memory.Entry, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, g)
	}
	return clusters, nil
}

func (c *Consolidator) promoteCluster(ctx context.Context, userID string, cluster []*memory.Entry) error {
	summaryText, err := c.summarize(ctx, cluster)
	if err != nil {
		return err
	}

	importance := 1
	ids := make([]string, len(cluster))
	for i, e := range cluster {
		ids[i] = e.ID
		if e.Importance > importance {
			importance = e.Importance
		}
	}

	summaryID, err := c.provider.Promote(ctx, ids, &memory.Entry{
		UserID:     userID,
		Content:    summaryText,
		Type:       memory.TypeInsight,
		Source:     memory.SourceSystem,
		Importance: importance,
	})
	if err != nil {
		return fmt.Errorf("promote summary: %w", err)
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, eventstream.Promoted(userID, summaryID, ids)); err != nil {
			c.logger.Warn("publishing promotion failed", "error", err)
		}
	}
	return nil
}

func (c *Consolidator) summarize(ctx context.Context, cluster []*memory.Entry) (string, error) {
	var b strings.Builder
	b.WriteString(`Merge these related memories about a user into one concise summary.
Keep every distinct fact; drop only repetition. Answer with the summary text
alone, no preamble.

Memories:
`)
	for _, e := range cluster {
		b.WriteString("- ")
		b.WriteString(e.Content)
		b.WriteString("\n")
	}

	summary, err := c.caller.Complete(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("summarize cluster: %w", err)
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize cluster: empty completion")
	}
	return summary, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
