package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgechat/internal/assistant"
	"edgechat/internal/bus"
	"edgechat/internal/channel"
	"edgechat/internal/config"
	"edgechat/internal/gateway"
	"edgechat/internal/session"
	"edgechat/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env before anything reads the environment; missing file is fine.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "edgechat",
		Short: "edgechat: chat session gateway with display-side turn merging",
		Long:  "edgechat stores raw chat logs, talks to an assistant backend, and serves the merged conversation over Web, WebSocket, Telegram and CLI.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.edgechat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
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
		cfg = config.Defaults()
		cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
	}
	return cfg
}

// setLogLevel replaces the process logger with one honoring the config level.
func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config file and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

// buildCore wires the store, session manager, assistant client and gateway
// loop. The caller owns the returned store's lifetime.
func buildCore(cfg *config.Config, messageBus *bus.InMemoryBus) (*store.SQLiteStore, *session.Manager, *assistant.HTTPClient, *gateway.Loop, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("session store: %w", err)
	}

	sessions := session.NewManager(st, logger)

	client := assistant.NewHTTPClient(assistant.HTTPConfig{
		BaseURL: cfg.Assistant.BaseURL,
		APIKey:  cfg.Assistant.APIKey,
		Timeout: time.Duration(cfg.Assistant.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	loop := gateway.NewLoop(gateway.LoopConfig{
		Assistant:    client,
		Sessions:     sessions,
		Bus:          messageBus,
		Logger:       logger,
		Concurrency:  cfg.General.MaxConcurrentMessages,
		HistoryLimit: cfg.General.HistoryLimit,
	})
	return st, sessions, client, loop, nil
}

func chatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			setLogLevel(cfg.General.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			messageBus := bus.New(100, logger)
			st, _, _, loop, err := buildCore(cfg, messageBus)
			if err != nil {
				return err
			}
			defer st.Close()
			defer messageBus.Close()

			go loop.Run(ctx)

			cliCh := channel.NewCLI(channel.CLIOptions{Logger: logger, SessionID: sessionID})
			return cliCh.Start(ctx, messageBus)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID to attach to (default \"cli\")")
	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (all enabled channels + processing loop)",
		Long:  "Starts all enabled channels (Web, WebSocket, Telegram) and the message loop. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	st, sessions, client, loop, err := buildCore(cfg, messageBus)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := client.Healthy(ctx); err != nil {
		logger.Warn("assistant backend unhealthy at startup", "err", err)
	} else {
		logger.Info("assistant backend healthy", "url", cfg.Assistant.BaseURL)
	}

	go loop.Run(ctx)

	var channels []interface{ Stop() error }

	if cfg.Channels.Web.Enabled {
		webCh := channel.NewWeb(channel.WebOptions{
			Host:     cfg.Channels.Web.Host,
			Port:     cfg.Channels.Web.Port,
			Auth:     cfg.Channels.Web.Auth,
			Logger:   logger,
			Sessions: sessions,
			Version:  version,
		})
		channels = append(channels, webCh)
		go func() {
			if err := webCh.Start(ctx, messageBus); err != nil {
				logger.Error("web channel error", "err", err)
			}
		}()
	}

	if cfg.Channels.WebSocket.Enabled {
		wsCh := channel.NewWebSocketChannel(channel.WSOptions{
			Host:   cfg.Channels.WebSocket.Host,
			Port:   cfg.Channels.WebSocket.Port,
			Logger: logger,
		})
		channels = append(channels, wsCh)
		go func() {
			if err := wsCh.Start(ctx, messageBus); err != nil {
				logger.Error("websocket channel error", "err", err)
			}
		}()
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tgCh := channel.NewTelegram(channel.TelegramOptions{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Sessions:  sessions,
			Logger:    logger,
		})
		channels = append(channels, tgCh)
		go func() {
			if err := tgCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	logger.Info("gateway started. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			ch.Stop()
		}
		messageBus.Close()
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

			client := assistant.NewHTTPClient(assistant.HTTPConfig{
				BaseURL: cfg.Assistant.BaseURL,
				APIKey:  cfg.Assistant.APIKey,
				Timeout: 10 * time.Second,
				Logger:  logger,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Healthy(ctx); err != nil {
				logger.Info("assistant", "url", cfg.Assistant.BaseURL, "healthy", false, "err", err)
			} else {
				logger.Info("assistant", "url", cfg.Assistant.BaseURL, "healthy", true)
			}
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
		Short: "Get a config value (e.g. assistant.baseUrl)",
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
		Short: "Set a config value (e.g. general.logLevel debug)",
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
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("validation: %w", err)
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
		Short: "List all config values",
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
