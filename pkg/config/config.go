// Package config manages the persistent engram configuration.
//
// Configuration lives in config.toml under the resolved .engram/ directory
// and is layered with viper: defaults < config.toml < ENGRAM_* environment
// variables < CLI flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v1 is the first supported version of the config.
	v1 = 1

	// CurrentV is the currently supported version.
	CurrentV = v1
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .engram/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the list of all supported configuration key names
// in a stable, logical order matching the TOML section layout.
func ValidConfigKeys() []string {
	ordered := []string{
		"storage.sqlite_path",
		"memory.provider",
		"memory.conn_str",
		"queue.batch_size",
		"queue.flush_interval_seconds",
		"queue.max_queue_size",
		"gate.threshold",
		"llm.provider",
		"llm.target",
		"llm.extraction_model",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"vector_store.provider",
		"vector_store.target",
		"consolidation.interval_hours",
		"consolidation.preferred_hour",
		"consolidation.min_cluster_size",
		"consolidation.min_age_days",
		"consolidation.similarity_threshold",
		"context.max_tokens",
		"api.listen",
		"mcp.listen",
		"event_stream.provider",
		"event_stream.topic",
	}

	// Sanity: only return keys that actually exist in the map.
	result := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}

	seen := make(map[string]bool, len(result))
	for _, k := range result {
		seen[k] = true
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target .engram/
// directory. If the file does not exist, returns NewDefaultConfig() so callers
// always receive a fully-populated Config with sane defaults. Fields
// explicitly set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Memory.Provider == "" {
		cfg.Memory.Provider = defaults.Memory.Provider
	}

	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = defaults.Queue.BatchSize
	}
	if cfg.Queue.FlushIntervalSeconds == 0 {
		cfg.Queue.FlushIntervalSeconds = defaults.Queue.FlushIntervalSeconds
	}
	if cfg.Queue.MaxQueueSize == 0 {
		cfg.Queue.MaxQueueSize = defaults.Queue.MaxQueueSize
	}

	if cfg.Gate.Threshold == 0 {
		cfg.Gate.Threshold = defaults.Gate.Threshold
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaults.LLM.Provider
	}
	if cfg.LLM.Target == "" {
		cfg.LLM.Target = defaults.LLM.Target
	}
	if cfg.LLM.ExtractionModel == "" {
		cfg.LLM.ExtractionModel = defaults.LLM.ExtractionModel
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}

	if cfg.Consolidation.IntervalHours == 0 {
		cfg.Consolidation.IntervalHours = defaults.Consolidation.IntervalHours
	}
	if cfg.Consolidation.MinClusterSize == 0 {
		cfg.Consolidation.MinClusterSize = defaults.Consolidation.MinClusterSize
	}
	if cfg.Consolidation.MinAgeDays == 0 {
		cfg.Consolidation.MinAgeDays = defaults.Consolidation.MinAgeDays
	}
	if cfg.Consolidation.SimilarityThreshold == 0 {
		cfg.Consolidation.SimilarityThreshold = defaults.Consolidation.SimilarityThreshold
	}

	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = defaults.Context.MaxTokens
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.MCP.Listen == "" {
		cfg.MCP.Listen = defaults.MCP.Listen
	}

	if cfg.EventStream.Provider == "" {
		cfg.EventStream.Provider = defaults.EventStream.Provider
	}
	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = defaults.EventStream.Topic
	}
}

// SaveConfig persists the configuration to config.toml in the target .engram/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
