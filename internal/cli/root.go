// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// annotationNoConfig marks commands that must run even when the config
// file is broken, such as "config init".
const annotationNoConfig = "rigrun-chat/no-config"

// Build information, set by main from linker flags.
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app carries state shared by all subcommands.
type app struct {
	configPath string
	verbose    bool
	model      string

	cfg *config.Config
	log *zap.Logger
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// NewRootCommand builds the command tree. Running it without a subcommand
// starts a chat.
func NewRootCommand() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Chat with hosted LLMs from the terminal or over HTTP",
		Long: `rigrun-chat keeps multi-turn conversations with models served through
an OpenAI-compatible completions API.

Run without a subcommand to start an interactive chat.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
		RunE:              a.runChat,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.rigrun-chat/config.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().StringVarP(&a.model, "model", "m", "", "model to start with (name or id)")

	root.AddCommand(
		newChatCommand(a),
		newServeCommand(a),
		newModelsCommand(a),
		newConfigCommand(a),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationNoConfig] == "true" {
		log, err := logging.New(logging.Options{Verbose: a.verbose})
		if err != nil {
			return err
		}
		a.log = log
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: a.verbose,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.log.Debug("config loaded",
		zap.String("path", a.configPath),
		zap.String("default_model", cfg.DefaultModel),
		zap.Int("models", len(cfg.Models)))
	return nil
}

func (a *app) teardown() {
	// Sync on stderr fails with EINVAL on some platforms.
	_ = a.log.Sync()
}

// buildController wires the completion client and registry from config.
// metrics may be nil.
func (a *app) buildController(metrics *telemetry.Metrics) (*session.Controller, error) {
	reg, err := a.cfg.Registry()
	if err != nil {
		return nil, err
	}

	client, err := cloud.NewClient(a.cfg.CloudClientConfig())
	if err != nil {
		if errors.Is(err, cloud.ErrNotConfigured) {
			return nil, fmt.Errorf("%w (set OPENROUTER_API_KEY or cloud.api_key in the config file)", err)
		}
		return nil, err
	}
	client.WithLogger(a.log)
	a.log.Debug("completion client ready",
		zap.String("base_url", a.cfg.Cloud.BaseURL),
		zap.String("key", client.KeyFingerprint()),
		zap.Duration("timeout", client.Timeout()))

	return session.NewController(session.Options{
		Registry:     reg,
		Client:       client,
		DefaultModel: a.cfg.DefaultModel,
		SystemPrompt: a.cfg.SystemPrompt,
		HistoryCap:   a.cfg.History.MaxTurns,
		Logger:       a.log,
		Metrics:      metrics,
	})
}
