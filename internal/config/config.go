// Package config loads the engine's configuration from YAML (or
// JSON5) files with $include resolution and ${ENV} expansion, then
// applies environment-variable overrides. All keys are optional;
// defaults match the documented configuration table. Configuration is
// read once at startup and never mutated afterwards.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ModelConfig configures the generative and embedding model adapters.
type ModelConfig struct {
	// Name is the generative model identifier (MODEL_NAME).
	Name string `yaml:"name"`

	// Provider selects the primary adapter: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// FallbackProvider, when set, adds a secondary adapter behind the
	// primary one.
	FallbackProvider string `yaml:"fallback_provider"`

	// FallbackModel is the model identifier for the fallback leg.
	FallbackModel string `yaml:"fallback_model"`

	// APIKey authenticates the primary provider. Usually supplied via
	// ${OPENAI_API_KEY} / ${ANTHROPIC_API_KEY} expansion.
	APIKey string `yaml:"api_key"`

	// FallbackAPIKey authenticates the fallback provider.
	FallbackAPIKey string `yaml:"fallback_api_key"`

	// EmbedModel is the embedding model identifier.
	EmbedModel string `yaml:"embed_model"`

	// EmbedDimensions is the embedding vector width.
	EmbedDimensions int `yaml:"embed_dimensions"`

	// MaxOutputTokens caps generative output (MAX_OUTPUT_TOKENS).
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Temperature is the generative sampling temperature (TEMPERATURE).
	Temperature float64 `yaml:"temperature"`
}

// PipelineConfig configures the request graph's gates and retry
// ceilings.
type PipelineConfig struct {
	// ConfidenceMin is the minimum route confidence accepted without a
	// retry (CONFIDENCE_MIN).
	ConfidenceMin float64 `yaml:"confidence_min"`

	// MaxRoutingRetries bounds the Route loop (MAX_ROUTING_RETRIES).
	MaxRoutingRetries int `yaml:"max_routing_retries"`

	// QualityMin is the minimum quality-gate score (QUALITY_MIN).
	QualityMin float64 `yaml:"quality_min"`

	// MaxQualityRetries bounds the regeneration loop (MAX_QUALITY_RETRIES).
	MaxQualityRetries int `yaml:"max_quality_retries"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	// ContextWindow is how many recent messages are surfaced to
	// routing (CONTEXT_WINDOW).
	ContextWindow int `yaml:"context_window"`

	// SummarizeThreshold is the in-memory message count above which
	// the summarizer runs (SUMMARIZE_THRESHOLD).
	SummarizeThreshold int `yaml:"summarize_threshold"`

	// SummarizeKeepRecent is how many messages survive summarization
	// verbatim (SUMMARIZE_KEEP_RECENT).
	SummarizeKeepRecent int `yaml:"summarize_keep_recent"`

	// SessionCacheMax is the hot-cache capacity (SESSION_CACHE_MAX).
	SessionCacheMax int `yaml:"session_cache_max"`

	// RetentionDays is the sweep age for sessions (RETENTION_DAYS).
	RetentionDays int `yaml:"retention_days"`

	// StorePath locates the durable conversation store (STORE_PATH).
	StorePath string `yaml:"store_path"`
}

// RetrievalConfig configures the retrieval engine.
type RetrievalConfig struct {
	// CorpusPath locates the corpus database.
	CorpusPath string `yaml:"corpus_path"`

	// TopK is how many documents a search returns.
	TopK int `yaml:"top_k"`
}

// ServerConfig configures the HTTP surface of `sahayak serve`.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:        "openai",
			EmbedDimensions: 1536,
			MaxOutputTokens: 32768,
			Temperature:     0.7,
		},
		Pipeline: PipelineConfig{
			ConfidenceMin:     0.6,
			MaxRoutingRetries: 2,
			QualityMin:        0.7,
			MaxQualityRetries: 2,
		},
		Memory: MemoryConfig{
			ContextWindow:       10,
			SummarizeThreshold:  20,
			SummarizeKeepRecent: 5,
			SessionCacheMax:     1000,
			RetentionDays:       30,
			StorePath:           "sahayak.db",
		},
		Retrieval: RetrievalConfig{
			CorpusPath: "corpus.db",
			TopK:       5,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}

// Load reads the config file at path (YAML or JSON5, with $include
// resolution and ${ENV} expansion), overlays it on the defaults,
// applies environment overrides, validates, and returns the result.
// An empty path returns defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := readTree(path, map[string]bool{})
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		loaded, err := decodeStrict(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		overlay(cfg, loaded)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readTree reads one config file, expands ${ENV} references, resolves
// its $include directive (a path or list of paths, relative to the
// including file), and deep-merges the result: included files first,
// the including file last, so the outermost file wins on conflicts.
// seen guards against include cycles.
func readTree(path string, seen map[string]bool) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("include cycle at %s", abs)
	}
	// Track the ancestor chain only, so two branches may include the
	// same shared base file without tripping cycle detection.
	seen[abs] = true
	defer delete(seen, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	// os.Expand treats a bare $name like ${name}, so the $include
	// directive key is handed back unchanged instead of being erased.
	expanded := os.Expand(string(data), func(name string) string {
		if name == "include" {
			return "$include"
		}
		return os.Getenv(name)
	})
	doc, err := parseDoc([]byte(expanded), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := readTree(inc, seen)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, sub)
	}
	return deepMerge(merged, doc), nil
}

// parseDoc decodes one config document. JSON5 is accepted for .json
// and .json5 files; everything else is parsed as a single YAML
// document.
func parseDoc(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("expected a single document")
		}
	}
	return doc, nil
}

// popIncludes removes the $include directive from doc and returns the
// listed paths.
func popIncludes(doc map[string]any) ([]string, error) {
	val, ok := doc["$include"]
	if !ok {
		return nil, nil
	}
	delete(doc, "$include")

	switch v := val.(type) {
	case string:
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			p, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings, got %T", entry)
			}
			paths = append(paths, p)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("$include must be a path or list of paths, got %T", val)
	}
}

// deepMerge folds src into dst, recursing through nested maps so an
// including file can override a single key without clobbering its
// sibling settings.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeStrict converts the merged raw tree into a Config, rejecting
// unknown keys so a typo fails at startup instead of silently falling
// back to a default.
func decodeStrict(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values outside their documented domain.
func (c *Config) Validate() error {
	if c.Pipeline.ConfidenceMin < 0 || c.Pipeline.ConfidenceMin > 1 {
		return fmt.Errorf("config: confidence_min must be in [0,1], got %v", c.Pipeline.ConfidenceMin)
	}
	if c.Pipeline.QualityMin < 0 || c.Pipeline.QualityMin > 1 {
		return fmt.Errorf("config: quality_min must be in [0,1], got %v", c.Pipeline.QualityMin)
	}
	if c.Pipeline.MaxRoutingRetries < 0 {
		return fmt.Errorf("config: max_routing_retries must be >= 0")
	}
	if c.Pipeline.MaxQualityRetries < 0 {
		return fmt.Errorf("config: max_quality_retries must be >= 0")
	}
	if c.Memory.SummarizeKeepRecent >= c.Memory.SummarizeThreshold {
		return fmt.Errorf("config: summarize_keep_recent (%d) must be below summarize_threshold (%d)",
			c.Memory.SummarizeKeepRecent, c.Memory.SummarizeThreshold)
	}
	if c.Memory.SessionCacheMax <= 0 {
		return fmt.Errorf("config: session_cache_max must be positive")
	}
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	if c.Model.FallbackProvider != "" {
		switch c.Model.FallbackProvider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("config: unknown fallback provider %q", c.Model.FallbackProvider)
		}
	}
	return nil
}

// overlay copies every non-zero field of src into dst. Zero values in
// the file mean "not set"; tracing.enabled is the one boolean where
// an explicit false is indistinguishable from absent, so it only
// flips on.
func overlay(dst, src *Config) {
	overlayString(&dst.Model.Name, src.Model.Name)
	overlayString(&dst.Model.Provider, src.Model.Provider)
	overlayString(&dst.Model.FallbackProvider, src.Model.FallbackProvider)
	overlayString(&dst.Model.FallbackModel, src.Model.FallbackModel)
	overlayString(&dst.Model.APIKey, src.Model.APIKey)
	overlayString(&dst.Model.FallbackAPIKey, src.Model.FallbackAPIKey)
	overlayString(&dst.Model.EmbedModel, src.Model.EmbedModel)
	overlayInt(&dst.Model.EmbedDimensions, src.Model.EmbedDimensions)
	overlayInt(&dst.Model.MaxOutputTokens, src.Model.MaxOutputTokens)
	overlayFloat(&dst.Model.Temperature, src.Model.Temperature)

	overlayFloat(&dst.Pipeline.ConfidenceMin, src.Pipeline.ConfidenceMin)
	overlayInt(&dst.Pipeline.MaxRoutingRetries, src.Pipeline.MaxRoutingRetries)
	overlayFloat(&dst.Pipeline.QualityMin, src.Pipeline.QualityMin)
	overlayInt(&dst.Pipeline.MaxQualityRetries, src.Pipeline.MaxQualityRetries)

	overlayInt(&dst.Memory.ContextWindow, src.Memory.ContextWindow)
	overlayInt(&dst.Memory.SummarizeThreshold, src.Memory.SummarizeThreshold)
	overlayInt(&dst.Memory.SummarizeKeepRecent, src.Memory.SummarizeKeepRecent)
	overlayInt(&dst.Memory.SessionCacheMax, src.Memory.SessionCacheMax)
	overlayInt(&dst.Memory.RetentionDays, src.Memory.RetentionDays)
	overlayString(&dst.Memory.StorePath, src.Memory.StorePath)

	overlayString(&dst.Retrieval.CorpusPath, src.Retrieval.CorpusPath)
	overlayInt(&dst.Retrieval.TopK, src.Retrieval.TopK)

	overlayString(&dst.Server.Host, src.Server.Host)
	overlayInt(&dst.Server.Port, src.Server.Port)

	overlayString(&dst.Logging.Level, src.Logging.Level)
	overlayString(&dst.Logging.Format, src.Logging.Format)

	if src.Tracing.Enabled {
		dst.Tracing.Enabled = true
	}
	overlayString(&dst.Tracing.Endpoint, src.Tracing.Endpoint)
	overlayFloat(&dst.Tracing.SampleRate, src.Tracing.SampleRate)
	overlayString(&dst.Tracing.Environment, src.Tracing.Environment)
}

func overlayString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func overlayInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

func overlayFloat(dst *float64, src float64) {
	if src != 0 {
		*dst = src
	}
}

// applyEnv maps the documented environment keys onto config fields.
// Environment always wins over file values.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}

	setString("MODEL_NAME", &cfg.Model.Name)
	setInt("MAX_OUTPUT_TOKENS", &cfg.Model.MaxOutputTokens)
	setFloat("TEMPERATURE", &cfg.Model.Temperature)
	setFloat("CONFIDENCE_MIN", &cfg.Pipeline.ConfidenceMin)
	setInt("MAX_ROUTING_RETRIES", &cfg.Pipeline.MaxRoutingRetries)
	setFloat("QUALITY_MIN", &cfg.Pipeline.QualityMin)
	setInt("MAX_QUALITY_RETRIES", &cfg.Pipeline.MaxQualityRetries)
	setInt("CONTEXT_WINDOW", &cfg.Memory.ContextWindow)
	setInt("SUMMARIZE_THRESHOLD", &cfg.Memory.SummarizeThreshold)
	setInt("SUMMARIZE_KEEP_RECENT", &cfg.Memory.SummarizeKeepRecent)
	setInt("SESSION_CACHE_MAX", &cfg.Memory.SessionCacheMax)
	setInt("RETENTION_DAYS", &cfg.Memory.RetentionDays)
	setString("STORE_PATH", &cfg.Memory.StorePath)
	setString("CORPUS_PATH", &cfg.Retrieval.CorpusPath)
	if cfg.Model.Provider == "openai" {
		setString("OPENAI_API_KEY", &cfg.Model.APIKey)
	}
}
