package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version       int                 `toml:"version"`
	Storage       StorageConfig       `toml:"storage"`
	Memory        MemoryConfig        `toml:"memory"`
	Queue         QueueConfig         `toml:"queue"`
	Gate          GateConfig          `toml:"gate"`
	LLM           LLMConfig           `toml:"llm"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	VectorStore   VectorStoreConfig   `toml:"vector_store"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Context       ContextConfig       `toml:"context"`
	API           APIConfig           `toml:"api"`
	MCP           MCPConfig           `toml:"mcp"`
	EventStream   EventStreamConfig   `toml:"event_stream"`
}

// StorageConfig holds the shared SQLite settings used by the queue store and
// the native memory provider.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// MemoryConfig selects and configures the memory provider backend.
type MemoryConfig struct {
	Provider string `toml:"provider,omitempty"` // "native" or "postgres"
	ConnStr  string `toml:"conn_str,omitempty"` // postgres connection string
}

// QueueConfig holds extraction queue tuning.
type QueueConfig struct {
	BatchSize            int     `toml:"batch_size,omitempty"`
	FlushIntervalSeconds float64 `toml:"flush_interval_seconds,omitempty"`
	MaxQueueSize         int     `toml:"max_queue_size,omitempty"`
}

// GateConfig holds the extraction gate threshold.
type GateConfig struct {
	Threshold float64 `toml:"threshold,omitempty"`
}

// LLMConfig holds settings for the completion client used by the extractor
// and the supersession classifier.
type LLMConfig struct {
	Provider        string `toml:"provider,omitempty"` // "ollama", "openai", "anthropic"
	Target          string `toml:"target,omitempty"`   // base URL override
	ExtractionModel string `toml:"extraction_model,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// VectorStoreConfig holds vector index settings for the native provider.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"` // "sqlitevec", "qdrant", or "" to disable
	Target   string `toml:"target,omitempty"`   // qdrant address
}

// ConsolidationConfig holds the periodic consolidation schedule and policy.
type ConsolidationConfig struct {
	IntervalHours       int     `toml:"interval_hours,omitempty"`
	PreferredHour       int     `toml:"preferred_hour"` // 0-23
	MinClusterSize      int     `toml:"min_cluster_size,omitempty"`
	MinAgeDays          int     `toml:"min_age_days,omitempty"`
	SimilarityThreshold float64 `toml:"similarity_threshold,omitempty"`
}

// ContextConfig holds L1 context block settings.
type ContextConfig struct {
	MaxTokens int `toml:"max_tokens,omitempty"`
}

// APIConfig holds admin API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// MCPConfig holds MCP server settings.
type MCPConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventStreamConfig holds event stream publisher settings.
type EventStreamConfig struct {
	Provider string   `toml:"provider,omitempty"` // "nop" or "kafka"
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intKey(get func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.Itoa(*get(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer value %q: %w", v, err)
			}
			*get(c) = n
			return nil
		},
	}
}

func floatKey(get func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*get(c), 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid float value %q: %w", v, err)
			}
			*get(c) = f
			return nil
		},
	}
}

func stringKey(get func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *get(c) },
		set: func(c *Config, v string) error { *get(c) = v; return nil },
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path":                stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"memory.provider":                    stringKey(func(c *Config) *string { return &c.Memory.Provider }),
	"memory.conn_str":                    stringKey(func(c *Config) *string { return &c.Memory.ConnStr }),
	"queue.batch_size":                   intKey(func(c *Config) *int { return &c.Queue.BatchSize }),
	"queue.flush_interval_seconds":       floatKey(func(c *Config) *float64 { return &c.Queue.FlushIntervalSeconds }),
	"queue.max_queue_size":               intKey(func(c *Config) *int { return &c.Queue.MaxQueueSize }),
	"gate.threshold":                     floatKey(func(c *Config) *float64 { return &c.Gate.Threshold }),
	"llm.provider":                       stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":                         stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.extraction_model":               stringKey(func(c *Config) *string { return &c.LLM.ExtractionModel }),
	"embedding.provider":                 stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":                   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":                    stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"vector_store.provider":              stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":                stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"consolidation.interval_hours":       intKey(func(c *Config) *int { return &c.Consolidation.IntervalHours }),
	"consolidation.preferred_hour":       intKey(func(c *Config) *int { return &c.Consolidation.PreferredHour }),
	"consolidation.min_cluster_size":     intKey(func(c *Config) *int { return &c.Consolidation.MinClusterSize }),
	"consolidation.min_age_days":         intKey(func(c *Config) *int { return &c.Consolidation.MinAgeDays }),
	"consolidation.similarity_threshold": floatKey(func(c *Config) *float64 { return &c.Consolidation.SimilarityThreshold }),
	"context.max_tokens":                 intKey(func(c *Config) *int { return &c.Context.MaxTokens }),
	"api.listen":                         stringKey(func(c *Config) *string { return &c.API.Listen }),
	"mcp.listen":                         stringKey(func(c *Config) *string { return &c.MCP.Listen }),
	"event_stream.provider":              stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"event_stream.topic":                 stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
}
