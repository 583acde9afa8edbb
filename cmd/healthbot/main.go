package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"healthbot/internal/agent"
	"healthbot/internal/bus"
	"healthbot/internal/channel"
	"healthbot/internal/config"
	"healthbot/internal/domain"
	"healthbot/internal/memory"
	"healthbot/internal/provider"
	"healthbot/internal/tool"
	"healthbot/internal/turn"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "healthbot",
		Short: "HealthBot: voice-and-text health information assistant",
		Long:  "HealthBot answers health questions over Telegram, Web, WebSocket, and CLI, with voice note transcription and web search.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.healthbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runtime wires the store, bus, agent loop, and turn pipeline from config.
type runtime struct {
	cfg        *config.Config
	bus        *bus.InMemoryBus
	store      domain.ConversationStore
	pipeline   *turn.Pipeline
	uploadsDir string
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(cfg.General.Workspace, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}

	messageBus := bus.NewInMemoryBus(logger)

	provFactory := provider.NewFactory(cfg, logger)
	prov, err := provFactory.DefaultProvider()
	if err != nil || prov == nil {
		logger.Warn("no default provider, falling back to ollama", "err", err)
		prov = provider.NewOllama(provider.OllamaConfig{Logger: logger})
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	var transcriber turn.Transcriber
	if cfg.Transcription.Enabled {
		whisper := provider.NewWhisperProvider(provider.WhisperConfig{
			APIBase:  cfg.Transcription.APIBase,
			APIKey:   cfg.Transcription.APIKey,
			Model:    cfg.Transcription.Model,
			Language: cfg.Transcription.Language,
			Logger:   logger,
		})
		transcriber = provider.NewPathTranscriber(whisper, logger)
		logger.Info("transcription enabled", "model", cfg.Transcription.Model)
	} else {
		logger.Info("transcription disabled, voice input will be declined")
	}

	toolReg := tool.NewRegistry(logger)
	searchCfg := tool.GeneralSearchConfig{MaxResults: cfg.Search.MaxResults}
	if cfg.Search.Provider == "tavily" {
		searchCfg.TavilyAPIKey = cfg.Search.APIKey
	}
	toolReg.Register(tool.NewGeneralSearchTool(searchCfg))

	sessions := agent.NewSessionManager(store, logger)
	promptBuilder := agent.NewPromptBuilder(agent.PromptConfig{
		SystemPromptExtra: cfg.General.SystemPromptExtra,
	}, logger)

	agentLoop := agent.NewLoop(agent.LoopConfig{
		Provider:      prov,
		Sessions:      sessions,
		Prompt:        promptBuilder,
		Tools:         toolReg,
		Logger:        logger,
		MaxIterations: cfg.General.MaxIterations,
		HistoryLimit:  cfg.Memory.HistoryLimit,
	})

	normalizer := turn.NewNormalizer(transcriber, logger)
	dispatcher := turn.NewDispatcher(agentLoop, logger)
	pipeline := turn.NewPipeline(messageBus, normalizer, dispatcher, turn.PipelineConfig{
		MaxConcurrent: cfg.General.MaxConcurrentTurns,
		CleanupAudio:  true,
	}, logger)

	return &runtime{
		cfg:        cfg,
		bus:        messageBus,
		store:      store,
		pipeline:   pipeline,
		uploadsDir: uploadsDir,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (domain.ConversationStore, error) {
	switch cfg.Memory.StoreType {
	case "sqlite":
		return memory.NewSQLiteStore(cfg.Memory.DBPath)
	case "redis":
		return memory.NewRedisStore(ctx, cfg.Memory.RedisAddr, cfg.Memory.RedisPassword, cfg.Memory.RedisDB)
	default:
		return memory.NewInMemoryStore(), nil
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.store.Close()
			defer rt.bus.Close()

			go rt.pipeline.Run(ctx)

			cliCh := channel.NewCLI(channel.CLIConfig{Bus: rt.bus, Logger: logger})
			return cliCh.Start(ctx)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start all enabled channels (Telegram, Web, WebSocket) and the turn pipeline",
		Long:  "Starts every channel enabled in the config plus the turn pipeline. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	go rt.pipeline.Run(ctx)

	var channels []domain.Channel

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramChannelConfig{
			Token:      cfg.Channels.Telegram.Token,
			AllowFrom:  cfg.Channels.Telegram.AllowFrom,
			ParseMode:  cfg.Channels.Telegram.ParseMode,
			UploadsDir: rt.uploadsDir,
			Bus:        rt.bus,
			Logger:     logger,
		}))
	}

	if cfg.Channels.Web.Enabled {
		channels = append(channels, channel.NewWeb(channel.WebConfig{
			Host:         cfg.Channels.Web.Host,
			Port:         cfg.Channels.Web.Port,
			Multimodal:   cfg.Channels.Web.Multimodal,
			UploadsDir:   rt.uploadsDir,
			Bus:          rt.bus,
			Logger:       logger,
			Version:      version,
			AuthEnabled:  cfg.Channels.Web.Auth.Enabled,
			AuthUser:     cfg.Channels.Web.Auth.Username,
			AuthPassHash: cfg.Channels.Web.Auth.PasswordHash,
		}))
	}

	if cfg.Channels.WebSocket.Enabled {
		channels = append(channels, channel.NewWebSocketChannel(channel.WSConfig{
			Host:   cfg.Channels.WebSocket.Host,
			Port:   cfg.Channels.WebSocket.Port,
			Bus:    rt.bus,
			Logger: logger,
		}))
	}

	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled; enable at least one of channels.telegram, channels.web, channels.websocket")
	}

	for _, ch := range channels {
		go func(ch domain.Channel) {
			if err := ch.Start(ctx); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("healthbot started. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(shutdownCtx); err != nil {
				logger.Warn("channel stop error", "channel", ch.Name(), "err", err)
			}
		}
		rt.bus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			prov := factory.HealthyProvider(ctx)
			if prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			logger.Info("transcription", "enabled", cfg.Transcription.Enabled, "model", cfg.Transcription.Model)
			logger.Info("memory", "storeType", cfg.Memory.StoreType)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. memory.storeType sqlite)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
