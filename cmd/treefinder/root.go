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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/treefinder/services/trace/config"
)

// searchFlags holds the root command's flags. File values are overridden
// only by flags the user actually set.
type searchFlags struct {
	directory   string
	configPath  string
	json        bool
	plain       bool
	logLevel    string
	maxDepth    int
	maxMatches  int
	exclude     []string
	lspCommand  string
	traces      string
	metrics     string
	metricsFile string
}

func newRootCmd() *cobra.Command {
	flags := &searchFlags{}

	cmd := &cobra.Command{
		Use:   "treefinder <file> <function> <pattern>",
		Short: "Search a function's call graph for a regular expression",
		Long: `treefinder starts at a function or method in a PHP file, walks its body,
follows method and constructor calls into their definitions through a
language server and reports each line matching <pattern> together with the
call path that reached it.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], args[1], args[2], flags)
		},
	}

	flags.register(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("json", "plain")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (s *searchFlags) register(f *pflag.FlagSet) {
	f.StringVarP(&s.directory, "directory", "d", "", "search root and language server workspace (default: the file's directory)")
	f.StringVar(&s.configPath, "config", "", "YAML config file (default: $"+config.EnvPath+")")
	f.BoolVar(&s.json, "json", false, "emit the result as JSON")
	f.BoolVar(&s.plain, "plain", false, "disable colours")
	f.StringVar(&s.logLevel, "log-level", "", "debug|info|warn|error")
	f.IntVar(&s.maxDepth, "max-depth", 0, "limit cross-file hops (0 = unlimited)")
	f.IntVar(&s.maxMatches, "max-matches", 0, "stop after N matches (0 = unlimited)")
	f.StringSliceVar(&s.exclude, "exclude", nil, "glob of definition files to ignore (repeatable)")
	f.StringVar(&s.lspCommand, "lsp-command", "", "language server executable (default intelephense)")
	f.StringVar(&s.traces, "traces", "", "none|stdout|otlp")
	f.StringVar(&s.metrics, "metrics", "", "none|stdout|prometheus")
	f.StringVar(&s.metricsFile, "metrics-file", "", "prometheus textfile output")
}

// apply overlays the flags the user set onto cfg.
func (s *searchFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.Logging.Level = s.logLevel
	}
	if changed("max-depth") {
		cfg.Search.MaxDepth = s.maxDepth
	}
	if changed("max-matches") {
		cfg.Search.MaxMatches = s.maxMatches
	}
	if changed("exclude") {
		cfg.Search.Exclude = append(cfg.Search.Exclude, s.exclude...)
	}
	if changed("lsp-command") {
		cfg.Resolver.Command = s.lspCommand
	}
	if changed("traces") {
		cfg.Telemetry.Traces = s.traces
	}
	if changed("metrics") {
		cfg.Telemetry.Metrics = s.metrics
	}
	if changed("metrics-file") {
		cfg.Telemetry.MetricsFile = s.metricsFile
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the treefinder version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "treefinder %s\n", version)
		},
	}
}
