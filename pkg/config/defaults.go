package config

const (
	defaultMemoryProvider = "native"
	defaultLLMProvider    = "ollama"
	defaultLLMTarget      = "http://localhost:11434"
	defaultLLMModel       = "llama3.2"

	defaultEmbeddingProvider = "ollama"
	defaultEmbeddingTarget   = "http://localhost:11434"
	defaultEmbeddingModel    = "nomic-embed-text"

	defaultAPIListen = ":8090"
	defaultMCPListen = ":8091"

	defaultBatchSize     = 5
	defaultFlushInterval = 5.0
	defaultMaxQueueSize  = 1000
	defaultGateThreshold = 0.3

	defaultConsolidationInterval = 24
	defaultConsolidationHour     = 3
	defaultMinClusterSize        = 3
	defaultMinAgeDays            = 7
	defaultSimilarityThreshold   = 0.82
	defaultContextMaxTokens      = 1000
	defaultEventStreamProvider   = "nop"
	defaultEventStreamKafkaTopic = "engram.memory.events"
)

// NewDefaultConfig returns a Config populated with default values.
// The sqlite path is left empty; callers resolve it against the .engram/
// directory when opening storage.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Memory: MemoryConfig{
			Provider: defaultMemoryProvider,
		},
		Queue: QueueConfig{
			BatchSize:            defaultBatchSize,
			FlushIntervalSeconds: defaultFlushInterval,
			MaxQueueSize:         defaultMaxQueueSize,
		},
		Gate: GateConfig{
			Threshold: defaultGateThreshold,
		},
		LLM: LLMConfig{
			Provider:        defaultLLMProvider,
			Target:          defaultLLMTarget,
			ExtractionModel: defaultLLMModel,
		},
		Embedding: EmbeddingConfig{
			Provider: defaultEmbeddingProvider,
			Target:   defaultEmbeddingTarget,
			Model:    defaultEmbeddingModel,
		},
		Consolidation: ConsolidationConfig{
			IntervalHours:       defaultConsolidationInterval,
			PreferredHour:       defaultConsolidationHour,
			MinClusterSize:      defaultMinClusterSize,
			MinAgeDays:          defaultMinAgeDays,
			SimilarityThreshold: defaultSimilarityThreshold,
		},
		Context: ContextConfig{
			MaxTokens: defaultContextMaxTokens,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		MCP: MCPConfig{
			Listen: defaultMCPListen,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamKafkaTopic,
		},
	}
}
