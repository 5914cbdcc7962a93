// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logger"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	cfgFile   string
	debugFlag bool
)

// Execute runs the command line and exits non-zero on error.
func Execute(version, commit, date string) {
	Version = version
	GitCommit = commit
	BuildDate = date

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Running with no subcommand serves.
func NewRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Chat backend for local and LM Studio models",
		Long: "rigrun-chat serves a streaming chat API backed by a local Ollama model\n" +
			"or a remote LM Studio endpoint, with web search, URL content and\n" +
			"#file: references to registered folders and Git repositories.",
		RunE:          serve.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.rigrun-chat/config.toml)")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	root.AddCommand(serve)
	root.AddCommand(newChatCmd())
	root.AddCommand(newConversationsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads --config when given, else the default locations.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	cfg, err := config.Load()
	if err != nil && cfg == nil {
		return nil, err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning:"), err, "(using defaults)")
	}
	return cfg, nil
}

// configPath returns the file a config command reads or writes.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.ConfigPathTOML()
}

// newLogger builds the process logger from config and flags.
func newLogger(cfg *config.Config) *logger.Logger {
	level := "info"
	if cfg.DebugMode || debugFlag {
		level = "debug"
	}
	return logger.Init(logger.Config{
		Level:  level,
		Pretty: IsStderrTTY(),
		Output: os.Stderr,
	})
}
