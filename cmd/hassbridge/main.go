package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"hassbridge/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // --config
	envFile    string // --env
	logLevel   string // --log-level, overrides log.level
)

func main() {
	logger = newLogger("info", "text", os.Stderr)

	root := &cobra.Command{
		Use:           "hassbridge",
		Short:         "hassbridge: chat commands for Home Assistant",
		Long:          "hassbridge listens for chat messages (Telegram, webhook, terminal), recognizes a small command vocabulary and calls Home Assistant services.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.hassbridge/config.yaml)")
	root.PersistentFlags().StringVarP(&envFile, "env", "e", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(callCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config or the default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads and validates the configuration and rebuilds the global
// logger from it. An explicit --config must exist; the default path may not.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:    resolveConfigPath(),
		EnvFile: envFile,
		Require: configPath != "",
	})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger = newLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return cfg, nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	case "tint":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hassbridge %s\n", version)
		},
	}
}
