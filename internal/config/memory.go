package config

import "time"

// EmbeddingConfig holds the embedding port configuration.
type EmbeddingConfig struct {
	Provider string `env:"EMBEDDING_PROVIDER" yaml:"provider" default:"ollama"`

	// BaseURL defaults to the backend base URL when left empty, since an
	// Ollama backend can serve its own embeddings.
	BaseURL   string        `env:"EMBEDDING_BASE_URL" yaml:"base_url"`
	APIKey    string        `env:"EMBEDDING_API_KEY" yaml:"api_key"`
	Model     string        `env:"EMBEDDING_MODEL" yaml:"model" default:"all-minilm"`
	Dimension int           `env:"EMBEDDING_DIM" yaml:"dimension" default:"384"`
	Timeout   time.Duration `env:"EMBEDDING_TIMEOUT" yaml:"timeout" default:"30s"`
}

// MemoryConfig holds the memory store persistence configuration.
type MemoryConfig struct {
	Backend  string `env:"MEMORY_STORAGE_BACKEND" yaml:"backend" default:"local"`
	LocalDir string `env:"MEMORY_STORAGE_PATH" yaml:"local_dir" default:"./recall_memory_data"`

	S3Bucket  string `env:"MEMORY_S3_BUCKET" yaml:"s3_bucket"`
	S3Prefix  string `env:"MEMORY_S3_PREFIX" yaml:"s3_prefix"`
	S3Region  string `env:"MEMORY_S3_REGION" yaml:"s3_region"`
	S3Profile string `env:"MEMORY_S3_PROFILE" yaml:"s3_profile"`
}

// SearchConfig bounds nearest-neighbor retrieval.
type SearchConfig struct {
	TopK                int     `env:"SEARCH_TOP_K" yaml:"top_k" default:"5"`
	SimilarityThreshold float64 `env:"SIMILARITY_THRESHOLD" yaml:"similarity_threshold" default:"0.3"`
}

// ContextConfig bounds the injected memory block.
type ContextConfig struct {
	MaxItems int `env:"MAX_CONTEXT_ITEMS" yaml:"max_items" default:"5"`
	MaxChars int `env:"MAX_CONTEXT_CHARS" yaml:"max_chars" default:"2000"`
}
