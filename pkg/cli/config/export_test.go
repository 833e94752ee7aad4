package config

// NewLLMForTest creates an LLM config for testing purposes
func NewLLMForTest(provider, embeddingProvider string, dimension int) *LLM {
	return &LLM{
		provider:          provider,
		embeddingProvider: embeddingProvider,
		dimension:         dimension,
		geminiLocation:    "us-central1",
	}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, indexBackend string) *Repository {
	return &Repository{
		backend:      backend,
		indexBackend: indexBackend,
		pgTable:      "badges",
	}
}

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: output,
	}
}
