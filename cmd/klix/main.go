package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"klix/internal/agent"
	"klix/internal/channel"
	"klix/internal/config"
	"klix/internal/memory"
	"klix/internal/provider"
	"klix/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	logger  *slog.Logger

	configPath  string
	flagLocal   bool
	flagModel   string
	flagProject string
)

func main() {
	root := &cobra.Command{
		Use:   "klix",
		Short: "Klix: a conversational coding assistant for your terminal",
		Long:  "Klix is a coding assistant with filesystem and shell tools, web search, and long-term memory. Runs against Gemini or a local Ollama model.",
		RunE:  runChat,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./klix.yaml or ~/.config/klix/config.yaml)")
	root.Flags().BoolVarP(&flagLocal, "local", "l", false, "use the local Ollama provider")
	root.Flags().StringVarP(&flagModel, "model", "m", "", "model name (gemini-* routes to Gemini, anything else to Ollama)")
	root.Flags().StringVarP(&flagProject, "project", "p", "", "project directory (default: current directory)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if flagLocal {
		cfg.Provider = config.ProviderOllama
	}
	if flagModel != "" {
		if err := applyModelFlag(cfg, flagModel); err != nil {
			return nil, err
		}
	}
	if flagProject != "" {
		cfg.ProjectRoot = flagProject
	}
	logger = config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, nil
}

func applyModelFlag(cfg *config.Config, model string) error {
	if !flagLocal && len(model) > 6 && model[:6] == "gemini" {
		cfg.Provider = config.ProviderGemini
		cfg.Gemini.Model = model
		return nil
	}
	cfg.SwitchModel(model)
	return nil
}

// buildAgent wires the session: provider, tools, memory, window and agent.
// The returned cleanup closes the memory store.
func buildAgent(cfg *config.Config, renderer agent.Renderer) (*agent.Agent, func(), error) {
	prov, err := provider.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	registry := tool.NewRegistry(logger)
	tool.RegisterBuiltins(registry, cfg)

	var memSvc *memory.Service
	cleanup := func() {}
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			logger.Warn("memory store unavailable, continuing without memory", "err", err)
			memSvc = memory.NewService(memory.ServiceConfig{Logger: logger})
		} else {
			cleanup = func() { store.Close() }
			memSvc = memory.NewService(memory.ServiceConfig{
				Store:       store,
				UserID:      cfg.Memory.UserID,
				SearchLimit: cfg.Memory.SearchLimit,
				Enabled:     true,
				Logger:      logger,
			})
		}
	} else {
		memSvc = memory.NewService(memory.ServiceConfig{Logger: logger})
	}

	a := agent.New(agent.Config{
		Provider: prov,
		Registry: registry,
		Memory:   memSvc,
		Renderer: renderer,
		AppCfg:   cfg,
		Logger:   logger,
	})
	return a, cleanup, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, warn := range cfg.Validate() {
		logger.Warn(warn)
	}

	// The REPL owns Ctrl-C so it can ask for confirmation before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	term := channel.NewTerminal(channel.TerminalConfig{Logger: logger})
	a, cleanup, err := buildAgent(cfg, term)
	if err != nil {
		return err
	}
	defer cleanup()

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Agent:    a,
		AppCfg:   cfg,
		Factory:  provider.New,
		Renderer: term,
		Logger:   logger,
	})
	term.Bind(a, dispatcher)

	return term.Run(ctx)
}

func serveCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := buildAgent(cfg, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := channel.NewServer(channel.ServerConfig{
				Host:   cfg.Server.Host,
				Port:   cfg.Server.Port,
				Chat:   a,
				Memory: a.Memory(),
				Logger: logger,
			})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "bind address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "port (default from config)")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("klix %s\n", version)
		},
	}
}
