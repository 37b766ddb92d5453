package config

import "time"

const (
	defaultAPIListen = ":8080"

	defaultIndexProvider  = "sqlite"
	defaultVectorProvider = "sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultSummarizerProvider = "ollama"
	defaultSummarizerTarget   = "http://localhost:11434"
	defaultSummarizerModel    = "llama3.2"

	defaultSweepInterval = "5m"
	defaultIdleTimeout   = "10m"

	defaultEventstreamProvider = "none"

	defaultContextMaxTurns = 50
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Index: IndexConfig{
			Provider: defaultIndexProvider,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Summarizer: SummarizerConfig{
			Provider: defaultSummarizerProvider,
			Target:   defaultSummarizerTarget,
			Model:    defaultSummarizerModel,
		},
		Pipeline: PipelineConfig{
			SweepInterval: defaultSweepInterval,
		},
		Lifecycle: LifecycleConfig{
			IdleTimeout: defaultIdleTimeout,
		},
		Eventstream: EventstreamConfig{
			Provider: defaultEventstreamProvider,
		},
		Context: ContextConfig{
			MaxTurns: defaultContextMaxTurns,
		},
	}
}

// SweepDuration parses the pipeline sweep interval, falling back to the
// default on a bad or empty value.
func (c *Config) SweepDuration() time.Duration {
	if d, err := time.ParseDuration(c.Pipeline.SweepInterval); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(defaultSweepInterval)
	return d
}

// IdleDuration parses the lifecycle idle timeout, falling back to the
// default on a bad or empty value.
func (c *Config) IdleDuration() time.Duration {
	if d, err := time.ParseDuration(c.Lifecycle.IdleTimeout); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(defaultIdleTimeout)
	return d
}
