package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for HealthBot.
type Config struct {
	General       GeneralConfig             `json:"general" yaml:"general"`
	Providers     map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Transcription TranscriptionConfig       `json:"transcription" yaml:"transcription"`
	Search        SearchConfig              `json:"search" yaml:"search"`
	Channels      ChannelsConfig            `json:"channels" yaml:"channels"`
	Memory        MemoryConfig              `json:"memory" yaml:"memory"`
}

type GeneralConfig struct {
	Workspace         string `json:"workspace" yaml:"workspace"`
	LogLevel          string `json:"logLevel" yaml:"logLevel"`
	LogFile           string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	DefaultProvider   string `json:"defaultProvider" yaml:"defaultProvider"`
	MaxIterations     int    `json:"maxIterations" yaml:"maxIterations"`
	MaxConcurrentTurns int   `json:"maxConcurrentTurns" yaml:"maxConcurrentTurns"`
	SystemPromptExtra string `json:"systemPromptExtra,omitempty" yaml:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

// TranscriptionConfig configures the Whisper speech-to-text backend.
type TranscriptionConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	APIBase  string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// SearchConfig configures the general_search tool backend.
type SearchConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // "tavily" | "duckduckgo"
	APIKey     string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	MaxResults int    `json:"maxResults" yaml:"maxResults"`
}

type ChannelsConfig struct {
	Web       WebConfig       `json:"web" yaml:"web"`
	CLI       CLIConfig       `json:"cli" yaml:"cli"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
}

type WebConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Host       string  `json:"host" yaml:"host"`
	Port       int     `json:"port" yaml:"port"`
	Multimodal bool    `json:"multimodal" yaml:"multimodal"` // accept microphone audio uploads
	Auth       WebAuth `json:"auth" yaml:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Username     string `json:"username" yaml:"username"`
	PasswordHash string `json:"passwordHash" yaml:"passwordHash"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string   `json:"parseMode" yaml:"parseMode"`
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

type MemoryConfig struct {
	// StoreType selects the conversation store backend:
	// "memory" (default, resets on restart), "sqlite", or "redis".
	StoreType     string `json:"storeType" yaml:"storeType"`
	DBPath        string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
	RedisAddr     string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb,omitempty" yaml:"redisDb,omitempty"`
	HistoryLimit  int    `json:"historyLimit" yaml:"historyLimit"`
}

// DefaultConfigDir returns the default config directory (~/.healthbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".healthbot"
	}
	return filepath.Join(home, ".healthbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands, parses, and validates the config file. JSON and YAML
// are both supported, selected by file extension.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original when no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 100 {
		errs = append(errs, "general.maxIterations must be between 1 and 100")
	}
	if cfg.General.MaxConcurrentTurns < 1 || cfg.General.MaxConcurrentTurns > 100 {
		errs = append(errs, "general.maxConcurrentTurns must be between 1 and 100")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.WebSocket.Port < 0 || cfg.Channels.WebSocket.Port > 65535 {
		errs = append(errs, "channels.websocket.port must be between 0 and 65535")
	}

	switch cfg.Memory.StoreType {
	case "memory", "sqlite", "redis":
		// valid
	default:
		errs = append(errs, "memory.storeType must be one of: memory, sqlite, redis")
	}
	if cfg.Memory.StoreType == "sqlite" && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required for the sqlite store")
	}
	if cfg.Memory.StoreType == "redis" && cfg.Memory.RedisAddr == "" {
		errs = append(errs, "memory.redisAddr is required for the redis store")
	}
	if cfg.Memory.HistoryLimit < 1 {
		errs = append(errs, "memory.historyLimit must be >= 1")
	}

	switch cfg.Search.Provider {
	case "", "tavily", "duckduckgo":
		// valid
	default:
		errs = append(errs, "search.provider must be one of: tavily, duckduckgo")
	}
	if cfg.Search.Provider == "tavily" && cfg.Search.APIKey == "" {
		errs = append(errs, "search.apiKey is required for the tavily provider")
	}

	// gemini reads GOOGLE_API_KEY from the environment and ollama has a
	// local default base, so only other providers need explicit settings.
	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && pc.APIKey == "" && name != "ollama" && name != "gemini" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiKey or apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
