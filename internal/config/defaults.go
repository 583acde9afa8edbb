package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:          "~/.healthbot/workspace",
			LogLevel:           "info",
			DefaultProvider:    "gemini",
			MaxIterations:      10,
			MaxConcurrentTurns: 4,
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      true,
				DefaultModel: "gemini-2.5-flash-lite",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Transcription: TranscriptionConfig{
			Enabled: true,
			APIBase: "https://api.openai.com/v1",
			Model:   "whisper-1",
		},
		Search: SearchConfig{
			Provider:   "duckduckgo",
			MaxResults: 5,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled:    true,
				Host:       "127.0.0.1",
				Port:       8080,
				Multimodal: true,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8081,
			},
		},
		Memory: MemoryConfig{
			StoreType:    "memory",
			DBPath:       "~/.healthbot/memory.db",
			RedisAddr:    "localhost:6379",
			HistoryLimit: 50,
		},
	}
}
