package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wxtap/internal/cdc"
	"wxtap/internal/config"
	"wxtap/internal/logging"
)

var version = "0.1.0-dev"

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wxtap",
		Short: "wxtap - read-only change-data-capture for an encrypted chat message store",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(map[string]interface{}{
				"version": version,
				"go":      "1.23",
			})
		},
	}

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "Print resolved configuration paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"config_path": config.DefaultConfigPath(),
				"db_dir":      cfg.DBDir,
				"log_path":    cfg.LogPath,
			})
		},
	}

	contactsCmd := &cobra.Command{
		Use:   "contacts",
		Short: "Print the contact list",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			if _, err := engine.RefreshContacts(); err != nil {
				return err
			}
			return printJSON(engine.Contacts())
		},
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Print the conversation list, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			// Display names are best-effort for a one-shot listing.
			_, _ = engine.RefreshContacts()
			sessions, err := engine.Sessions()
			if err != nil {
				return err
			}
			return printJSON(sessions)
		},
	}

	messagesCmd := &cobra.Command{
		Use:   "messages",
		Short: "Dump every message currently in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			_, _ = engine.RefreshContacts()
			batch, err := engine.NewMessages()
			if err != nil {
				return err
			}
			out := make([]messageOutput, 0, len(batch))
			for _, m := range batch {
				out = append(out, messageOutput{Message: m, Preview: m.Preview()})
			}
			return printJSON(out)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Capture and log new messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := buildEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if _, err := engine.RefreshContacts(); err != nil {
				// The contact store may not exist yet; names degrade to ids.
				fmt.Fprintf(os.Stderr, "contacts unavailable: %v\n", err)
			}
			if err := engine.MarkAllRead(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := engine.Run(ctx, cfg.PollEvery(), nil); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type messageOutput struct {
	cdc.Message
	Preview string `json:"preview"`
}

func buildEngine() (*cdc.Engine, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.LogPath, debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	engine, err := cdc.New(cfg.Key, cfg.DBDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
