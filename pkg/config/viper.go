package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound by the commands)
//  2. Environment variables (ENGRAM_GATE_THRESHOLD, ENGRAM_API_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_GATE_THRESHOLD, ENGRAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	v.SetDefault("memory.provider", d.Memory.Provider)
	v.SetDefault("memory.conn_str", d.Memory.ConnStr)

	v.SetDefault("queue.batch_size", d.Queue.BatchSize)
	v.SetDefault("queue.flush_interval_seconds", d.Queue.FlushIntervalSeconds)
	v.SetDefault("queue.max_queue_size", d.Queue.MaxQueueSize)

	v.SetDefault("gate.threshold", d.Gate.Threshold)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.target", d.LLM.Target)
	v.SetDefault("llm.extraction_model", d.LLM.ExtractionModel)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)

	v.SetDefault("consolidation.interval_hours", d.Consolidation.IntervalHours)
	v.SetDefault("consolidation.preferred_hour", d.Consolidation.PreferredHour)
	v.SetDefault("consolidation.min_cluster_size", d.Consolidation.MinClusterSize)
	v.SetDefault("consolidation.min_age_days", d.Consolidation.MinAgeDays)
	v.SetDefault("consolidation.similarity_threshold", d.Consolidation.SimilarityThreshold)

	v.SetDefault("context.max_tokens", d.Context.MaxTokens)

	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("mcp.listen", d.MCP.Listen)

	v.SetDefault("event_stream.provider", d.EventStream.Provider)
	v.SetDefault("event_stream.brokers", d.EventStream.Brokers)
	v.SetDefault("event_stream.topic", d.EventStream.Topic)
}

// FromViper materializes a Config from a viper instance populated by InitViper.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		Memory: MemoryConfig{
			Provider: v.GetString("memory.provider"),
			ConnStr:  v.GetString("memory.conn_str"),
		},
		Queue: QueueConfig{
			BatchSize:            v.GetInt("queue.batch_size"),
			FlushIntervalSeconds: v.GetFloat64("queue.flush_interval_seconds"),
			MaxQueueSize:         v.GetInt("queue.max_queue_size"),
		},
		Gate: GateConfig{
			Threshold: v.GetFloat64("gate.threshold"),
		},
		LLM: LLMConfig{
			Provider:        v.GetString("llm.provider"),
			Target:          v.GetString("llm.target"),
			ExtractionModel: v.GetString("llm.extraction_model"),
		},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
		},
		VectorStore: VectorStoreConfig{
			Provider: v.GetString("vector_store.provider"),
			Target:   v.GetString("vector_store.target"),
		},
		Consolidation: ConsolidationConfig{
			IntervalHours:       v.GetInt("consolidation.interval_hours"),
			PreferredHour:       v.GetInt("consolidation.preferred_hour"),
			MinClusterSize:      v.GetInt("consolidation.min_cluster_size"),
			MinAgeDays:          v.GetInt("consolidation.min_age_days"),
			SimilarityThreshold: v.GetFloat64("consolidation.similarity_threshold"),
		},
		Context: ContextConfig{
			MaxTokens: v.GetInt("context.max_tokens"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		MCP: MCPConfig{
			Listen: v.GetString("mcp.listen"),
		},
		EventStream: EventStreamConfig{
			Provider: v.GetString("event_stream.provider"),
			Brokers:  v.GetStringSlice("event_stream.brokers"),
			Topic:    v.GetString("event_stream.topic"),
		},
	}

	applyDefaults(cfg)
	return cfg
}
