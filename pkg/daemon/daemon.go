// Package daemon runs the background memory system: the gated extraction
// queue, the LLM pipeline that turns conversation turns into stored memories,
// periodic consolidation, provider health monitoring, and the context block
// cache that front-ends recall.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/contextblock"
	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/embeddings/ollama"
	"github.com/papercomputeco/engram/pkg/eventstream"
	eventkafka "github.com/papercomputeco/engram/pkg/eventstream/kafka"
	eventnop "github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/gate"
	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/memory/native"
	"github.com/papercomputeco/engram/pkg/memory/postgres"
	"github.com/papercomputeco/engram/pkg/queue"
	"github.com/papercomputeco/engram/pkg/recall"
	"github.com/papercomputeco/engram/pkg/vector"
	"github.com/papercomputeco/engram/pkg/vector/qdrant"
	"github.com/papercomputeco/engram/pkg/vector/sqlitevec"
)

// flushDeadline bounds the final queue drain during shutdown.
const flushDeadline = 10 * time.Second

// pruneInterval is how often expired context snapshots and old queue rows
// are cleaned up.
const pruneInterval = time.Hour

// Daemon owns the background memory system's moving parts.
type Daemon struct {
	cfg    config.Config
	logger *slog.Logger

	provider     memory.Provider
	store        *queue.Store
	queue        *queue.Queue
	cache        *L1Cache
	health       *healthMonitor
	consolidator *Consolidator
	publisher    eventstream.Publisher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a Daemon from configuration. dataDir is the resolved .engram
// directory holding the SQLite files.
func New(cfg config.Config, dataDir string, logger *slog.Logger) (*Daemon, error) {
	caller, err := llm.NewCaller(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.ExtractionModel,
		BaseURL:  cfg.LLM.Target,
	})
	if err != nil {
		return nil, fmt.Errorf("llm caller: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	vectors, err := buildVectorDriver(cfg, dataDir, logger)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg, dataDir, embedder, vectors, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		provider.Close()
		return nil, err
	}

	builder := contextblock.New(provider, cfg.Context.MaxTokens, logger)
	cache := NewL1Cache(builder)

	pipeline := NewPipeline(
		extract.NewExtractor(caller, logger),
		extract.NewClassifier(caller, logger),
		provider,
		publisher,
		cache,
		logger,
	)

	store, err := queue.OpenStore(filepath.Join(dataDir, "queue.db"))
	if err != nil {
		provider.Close()
		publisher.Close()
		return nil, fmt.Errorf("queue store: %w", err)
	}

	q := queue.New(store, gate.New(gate.Config{Threshold: cfg.Gate.Threshold}), pipeline.Process, queue.Config{
		BatchSize:     cfg.Queue.BatchSize,
		FlushInterval: time.Duration(cfg.Queue.FlushIntervalSeconds * float64(time.Second)),
		MaxQueueSize:  cfg.Queue.MaxQueueSize,
	}, logger)

	var consolidator *Consolidator
	if cp, ok := provider.(memory.ConsolidationProvider); ok {
		consolidator = NewConsolidator(cp, embedder, caller, publisher, cache, ConsolidationConfig{
			IntervalHours:       cfg.Consolidation.IntervalHours,
			PreferredHour:       cfg.Consolidation.PreferredHour,
			MinClusterSize:      cfg.Consolidation.MinClusterSize,
			MinAge:              time.Duration(cfg.Consolidation.MinAgeDays) * 24 * time.Hour,
			SimilarityThreshold: cfg.Consolidation.SimilarityThreshold,
		}, logger)
	}

	return &Daemon{
		cfg:          cfg,
		logger:       logger,
		provider:     provider,
		store:        store,
		queue:        q,
		cache:        cache,
		health:       newHealthMonitor(provider, logger),
		consolidator: consolidator,
		publisher:    publisher,
	}, nil
}

// Start recovers persisted queue state and launches the background loops.
func (d *Daemon) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	recovered, err := d.queue.Recover(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("queue recovery: %w", err)
	}
	if recovered > 0 {
		d.logger.Info("resuming extraction after restart", "pending", recovered)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.queue.Run(ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.health.run(ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pruneLoop(ctx)
	}()

	if d.consolidator != nil {
		if err := d.consolidator.Start(ctx); err != nil {
			cancel()
			return err
		}
	}

	d.logger.Info("memory daemon started",
		"provider", providerName(d.cfg),
		"batch_size", d.cfg.Queue.BatchSize,
	)
	return nil
}

// Stop shuts down in order: close intake, stop the loops, then drain what's
// still waiting under a deadline before releasing resources. The worker is
// quiesced before the final flush so only one drainer touches the store.
// Anything still queued after the deadline survives in SQLite for the next
// start.
func (d *Daemon) Stop() {
	d.queue.CloseIntake()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), flushDeadline)
	drained := d.queue.Flush(flushCtx)
	cancel()
	if drained > 0 {
		d.logger.Info("drained queue on shutdown", "items", drained)
	}

	if err := d.publisher.Close(); err != nil {
		d.logger.Warn("closing event publisher", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("closing queue store", "error", err)
	}
	if err := d.provider.Close(); err != nil {
		d.logger.Warn("closing memory provider", "error", err)
	}

	d.logger.Info("memory daemon stopped")
}

// ObserveTurn feeds a finished conversation turn into the pipeline. Returns
// whether the turn was queued for extraction. While the provider is degraded
// the turn is still queued; processing fails and retries naturally once the
// provider recovers.
func (d *Daemon) ObserveTurn(ctx context.Context, turn llm.ConversationTurn) bool {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	return d.queue.Enqueue(ctx, turn)
}

// ContextBlock returns the cached token-budgeted memory block for a user.
// Degraded providers yield an empty block rather than an error.
func (d *Daemon) ContextBlock(ctx context.Context, userID, currentMessage string) string {
	if d.health.Degraded() {
		return ""
	}
	return d.cache.Get(ctx, userID, currentMessage)
}

// Recall applies the auto-recall rules to an incoming message and, when they
// fire, searches memory and dedups the hits against the recent conversation.
func (d *Daemon) Recall(ctx context.Context, userID, message string, sessionMessages int, recentContext []string) []*memory.Entry {
	if d.health.Degraded() {
		return nil
	}

	decision := recall.Decide(message, sessionMessages, recentContext)
	if !decision.Search {
		return nil
	}

	entries, err := d.provider.Search(ctx, memory.SearchRequest{
		Query:  message,
		Limit:  5,
		Filter: memory.Filter{UserID: userID},
	})
	if err != nil {
		d.logger.Warn("recall search failed", "user_id", userID, "error", err)
		return nil
	}

	entries = recall.Dedup(entries, recentContext)
	if len(entries) > 0 {
		d.logger.Debug("recall triggered",
			"user_id", userID,
			"reason", decision.Reason,
			"hits", len(entries),
		)
	}
	return entries
}

// Stats reports queue counters and provider health.
type Stats struct {
	Queue    queue.Stats `json:"queue"`
	Degraded bool        `json:"degraded"`
	Provider string      `json:"provider"`
}

// Stats returns a snapshot of daemon state.
func (d *Daemon) Stats() Stats {
	return Stats{
		Queue:    d.queue.Stats(),
		Degraded: d.health.Degraded(),
		Provider: providerName(d.cfg),
	}
}

// Provider exposes the memory backend for the API and CLI surfaces.
func (d *Daemon) Provider() memory.Provider {
	return d.provider
}

// Consolidate triggers one consolidation pass outside the schedule.
func (d *Daemon) Consolidate(ctx context.Context) error {
	if d.consolidator == nil {
		return fmt.Errorf("provider does not support consolidation")
	}
	return d.consolidator.RunOnce(ctx)
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := d.store.Prune(ctx, time.Now().Add(-24*time.Hour)); err != nil {
			d.logger.Warn("queue prune failed", "error", err)
		} else if n > 0 {
			d.logger.Debug("pruned finished queue rows", "rows", n)
		}

		if np, ok := d.provider.(*native.Provider); ok {
			if n, err := np.PruneExpiredContexts(ctx); err != nil {
				d.logger.Warn("snapshot prune failed", "error", err)
			} else if n > 0 {
				d.logger.Debug("pruned expired snapshots", "rows", n)
			}
		}
	}
}

func buildEmbedder(cfg config.Config) (embeddings.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "":
		return nil, nil
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: cfg.Embedding.Target,
			Model:   cfg.Embedding.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Embedding.Provider)
	}
}

func buildVectorDriver(cfg config.Config, dataDir string, logger *slog.Logger) (vector.Driver, error) {
	if cfg.Embedding.Provider == "" {
		return nil, nil
	}

	switch cfg.VectorStore.Provider {
	case "", "sqlitevec":
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     filepath.Join(dataDir, "vectors.db"),
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)

	case "qdrant":
		host, port, err := splitHostPort(cfg.VectorStore.Target)
		if err != nil {
			return nil, fmt.Errorf("vector_store.target: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:       host,
			Port:       port,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown vector store provider: %q", cfg.VectorStore.Provider)
	}
}

func buildProvider(cfg config.Config, dataDir string, embedder embeddings.Embedder, vectors vector.Driver, logger *slog.Logger) (memory.Provider, error) {
	switch providerName(cfg) {
	case "native":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(dataDir, "memory.db")
		}
		return native.New(path, native.Options{
			Embedder: embedder,
			Vectors:  vectors,
			Logger:   logger,
		})

	case "postgres":
		if cfg.Memory.ConnStr == "" {
			return nil, fmt.Errorf("postgres provider requires memory.conn_str")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.New(ctx, cfg.Memory.ConnStr, logger)

	default:
		return nil, fmt.Errorf("unknown memory provider: %q (available: native, postgres)", cfg.Memory.Provider)
	}
}

func buildPublisher(cfg config.Config) (eventstream.Publisher, error) {
	switch cfg.EventStream.Provider {
	case "", "nop":
		return eventnop.New(), nil
	case "kafka":
		return eventkafka.New(eventkafka.Config{
			Brokers: cfg.EventStream.Brokers,
			Topic:   cfg.EventStream.Topic,
		})
	default:
		return nil, fmt.Errorf("unknown event stream provider: %q", cfg.EventStream.Provider)
	}
}

func providerName(cfg config.Config) string {
	if cfg.Memory.Provider == "" {
		return "native"
	}
	return cfg.Memory.Provider
}

func splitHostPort(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("expected host:port, got %q", target)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q", target)
	}
	return host, port, nil
}
