package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:         "~/.sahayak",
			LogLevel:        "info",
			DefaultProvider: "ollama",
			DefaultMode:     "general",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			APIBase:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dims:      768,
			CacheSize: 4096,
		},
		Memory: MemoryConfig{
			DBPath:    "~/.sahayak/memory.db",
			VectorDir: "~/.sahayak/vectors",
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 20,
			MaxConcurrent:  4,
		},
	}
}
