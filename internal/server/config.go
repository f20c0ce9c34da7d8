// Package server implements the varanus HTTP API.
//
// This file defines the Go structs that correspond to the YAML configuration
// file. Decoding is strict (unknown keys are rejected) and environment
// variables in the form ${VAR} are expanded first, so tokens and URLs can
// stay out of the file itself.

package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/core/distance"
	"github.com/sanonone/varanus/pkg/embeddings"
	"github.com/sanonone/varanus/pkg/engine"
	"github.com/sanonone/varanus/pkg/llm"
)

// defaultCollection is the collection requests fall back to when they do not
// name one. It matches the collection the CLI seeds on first run.
const defaultCollection = "komodo"

// Config is the top-level structure of the varanus configuration file. Every
// section is optional; the zero value runs a lexical-only engine with no
// authentication.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Engine      EngineConfig      `yaml:"engine"`
	Collections []CollectionSpec  `yaml:"collections"`
	Embedders   []EmbedderSpec    `yaml:"embedders"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// EngineConfig overrides selected engine defaults. Zero values keep the
// defaults from engine.DefaultOptions.
type EngineConfig struct {
	DataDir          string  `yaml:"data_dir"`
	AutosaveInterval string  `yaml:"autosave_interval"`
	Threshold        float64 `yaml:"threshold"`
	Alpha            float64 `yaml:"alpha"`
	Strategy         string  `yaml:"strategy"`
}

// CollectionSpec declares a collection to create at startup. Creation is
// idempotent, so restarting with the same file is safe.
type CollectionSpec struct {
	Name      string `yaml:"name"`
	Language  string `yaml:"language"`
	Metric    string `yaml:"metric"`
	Precision string `yaml:"precision"`
	Embedder  string `yaml:"embedder"`
}

// Options converts the declaration into the engine's collection options.
func (c CollectionSpec) Options() core.CollectionOptions {
	return core.CollectionOptions{
		Language:  c.Language,
		Metric:    distance.DistanceMetric(c.Metric),
		Precision: distance.PrecisionType(c.Precision),
		Embedder:  c.Embedder,
	}
}

// EmbedderSpec declares an embedding provider to register at startup.
// Durations are strings ("30s", "2m") parsed with time.ParseDuration.
type EmbedderSpec struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // "ollama", "openai" or "sbert"
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`

	// sbert only: subprocess pool size and interpreter path.
	Workers int    `yaml:"workers"`
	Python  string `yaml:"python"`
}

// Build constructs the declared embedder. The sbert type spawns its Python
// workers here, so a broken runtime surfaces immediately.
func (c EmbedderSpec) Build() (embeddings.Embedder, error) {
	timeout, err := parseDuration(c.Timeout, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("embedder '%s': %w", c.Name, err)
	}

	switch c.Type {
	case "ollama":
		return embeddings.NewOllamaEmbedder(c.URL, c.Model, timeout), nil
	case "openai":
		return embeddings.NewOpenAIEmbedder(c.URL, c.Model, c.APIKey, timeout), nil
	case "sbert":
		return embeddings.NewSBERTEmbedder(embeddings.SBERTConfig{
			Model:      c.Model,
			Workers:    c.Workers,
			PythonPath: c.Python,
			Normalize:  true,
		})
	default:
		return nil, fmt.Errorf("embedder '%s': unknown type '%s' (use ollama, openai or sbert)", c.Name, c.Type)
	}
}

// SynthesizerConfig wires the optional LLM that composes replies from
// near-miss entries when no stored answer clears the threshold.
type SynthesizerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// Build constructs the synthesizer client, or nil when disabled.
func (c SynthesizerConfig) Build() (llm.Client, error) {
	if !c.Enabled {
		return nil, nil
	}
	timeout, err := parseDuration(c.Timeout, 0)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}

	cfg := llm.DefaultConfig()
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.Model != "" {
		cfg.Model = c.Model
	}
	if c.APIKey != "" {
		cfg.APIKey = c.APIKey
	}
	cfg.Temperature = c.Temperature
	cfg.MaxTokens = c.MaxTokens
	cfg.Timeout = timeout
	return llm.NewClient(cfg), nil
}

// KnowledgeConfig configures the document ingestion pipeline: the sources
// swept at startup, the chunking geometry, and the target collection.
type KnowledgeConfig struct {
	Sources    []string `yaml:"sources"`
	ChunkSize  int      `yaml:"chunk_size"`
	Overlap    int      `yaml:"overlap"`
	Collection string   `yaml:"collection"`
}

// LoadConfig reads and parses the YAML configuration file. An empty path
// returns the zero configuration, so callers can treat the file as optional.
// It uses Strict Mode (KnownFields) to prevent silent errors due to typos.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	expandedData := os.ExpandEnv(string(data))

	var config Config
	decoder := yaml.NewDecoder(strings.NewReader(expandedData))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	return &config, nil
}

// EngineOptions folds the engine section over the defaults. dataDir is the
// caller's fallback for when the file does not set one.
func (c *Config) EngineOptions(dataDir string) (engine.Options, error) {
	if c.Engine.DataDir != "" {
		dataDir = c.Engine.DataDir
	}
	opts := engine.DefaultOptions(dataDir)

	if c.Engine.AutosaveInterval != "" {
		d, err := time.ParseDuration(c.Engine.AutosaveInterval)
		if err != nil {
			return opts, fmt.Errorf("engine.autosave_interval: %w", err)
		}
		opts.AutoSaveInterval = d
	}
	if c.Engine.Threshold > 0 {
		opts.Matching.Threshold = c.Engine.Threshold
	}
	if c.Engine.Alpha > 0 {
		opts.Matching.Alpha = c.Engine.Alpha
	}
	opts.Matching.Strategy = c.Engine.Strategy
	return opts, nil
}

// Apply registers the configured embedders and synthesizer on an open engine
// and creates the configured collections. Embedders are registered first so
// collections referencing them pick up backlogged vectorization right away.
// An embedder that fails to build is logged and skipped; a bad synthesizer
// or collection is an error.
func (c *Config) Apply(eng *engine.Engine) error {
	for _, spec := range c.Embedders {
		emb, err := spec.Build()
		if err != nil {
			slog.Warn("embedder skipped", "name", spec.Name, "error", err)
			continue
		}
		eng.SetEmbedder(spec.Name, emb)
	}

	synth, err := c.Synthesizer.Build()
	if err != nil {
		return err
	}
	if synth != nil {
		eng.SetSynthesizer(synth)
	}

	for _, spec := range c.Collections {
		if err := eng.CollectionCreate(spec.Name, spec.Options()); err != nil {
			return fmt.Errorf("collection '%s': %w", spec.Name, err)
		}
	}
	return nil
}

// DefaultCollection is the collection used when a request or tool call does
// not name one: the first configured collection, or "komodo".
func (c *Config) DefaultCollection() string {
	if len(c.Collections) > 0 && c.Collections[0].Name != "" {
		return c.Collections[0].Name
	}
	return defaultCollection
}

// parseDuration parses a duration string, returning def when it is empty.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	return d, nil
}
