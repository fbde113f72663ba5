package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetsup"
	"github.com/loykin/fleetsup/internal/config"
	"github.com/loykin/fleetsup/internal/logger"
)

func createStartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the supervisor in the foreground",
		Long: `Run the supervisor: join the gossip ring, start every configured service
and keep it running until SIGINT or SIGTERM.

Examples:
  fleetsup start --config=/etc/fleetsup/config.toml
  FLEETSUP_GROUP=canary fleetsup start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), flags.ConfigPath)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runStart(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, closer := logger.New(cfg.Log)
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	agent, err := fleetsup.NewAgent(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := agent.Close(); err != nil {
			slog.Warn("Closing supervisor", "error", err)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	slog.Info("Supervisor starting", "member_id", agent.Manager().Gossip().MemberID(),
		"group", cfg.Group, "services", len(cfg.Services), "fs_root", cfg.FSRoot)
	return agent.Run(ctx)
}
