// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph"
	"github.com/AleutianAI/contentgraph/services/contentgraph/config"
	"github.com/spf13/cobra"
)

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath string
	output     string
	out        io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{out: out}

	rootCmd := &cobra.Command{
		Use:   "contentgraph",
		Short: "Versioned content graph with dimensions and workspaces",
		Long: `contentgraph stores hierarchical content as event-sourced node
aggregates that vary across configured dimensions, and isolates edits in
workspaces that are published or rebased onto their base.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the YAML configuration (default: built-in in-memory configuration)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "auto",
		"output format: auto, json or text (auto prints JSON unless stdout is a terminal)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newDimensionsCmd(opts),
		newReplayCmd(opts),
		newWorkspacesCmd(opts),
	)
	return rootCmd
}

func (o *cliOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// openService builds a service for offline commands. Logs go to stderr at
// warn level unless the configuration asks for more. The returned func
// closes the service and the logger.
func (o *cliOptions) openService(ctx context.Context) (*contentgraph.Service, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Logging.Level < logging.LevelWarn {
		cfg.Logging.Level = logging.LevelWarn
	}
	logger := logging.New(cfg.Logging)
	svc, err := contentgraph.NewService(ctx, cfg, logger.Slog())
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	return svc, func() {
		if err := svc.Close(); err != nil {
			logger.Error("close service", slog.String("error", err.Error()))
		}
		_ = logger.Close()
	}, nil
}
