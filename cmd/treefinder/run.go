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
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/treefinder/pkg/logging"
	"github.com/AleutianAI/treefinder/pkg/ux"
	"github.com/AleutianAI/treefinder/services/trace/ast"
	"github.com/AleutianAI/treefinder/services/trace/config"
	"github.com/AleutianAI/treefinder/services/trace/explore"
	"github.com/AleutianAI/treefinder/services/trace/lsp"
	"github.com/AleutianAI/treefinder/services/trace/telemetry"
)

// shutdownTimeout bounds language server and exporter shutdown.
const shutdownTimeout = 5 * time.Second

func runSearch(cmd *cobra.Command, file, function, pattern string, flags *searchFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "treefinder",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := shutdownTelemetry(sctx); serr != nil {
			logger.Warn("telemetry shutdown failed", "error", serr)
		}
	}()

	entry, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", file, err)
	}
	root := flags.directory
	if root == "" {
		root = filepath.Dir(entry)
	}
	if root, err = filepath.Abs(root); err != nil {
		return fmt.Errorf("resolve %s: %w", flags.directory, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "treefinder.cli", "treefinder.search",
		trace.WithAttributes(
			attribute.String("treefinder.root", root),
			attribute.String("treefinder.resolver", cfg.Resolver.Command),
		),
	)
	defer span.End()
	slogger := telemetry.LoggerWithTrace(ctx, logger.Slog())

	manager := newManager(root, cfg.Resolver)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := manager.ShutdownAll(sctx); serr != nil {
			slogger.Warn("language server shutdown failed", slog.String("error", serr.Error()))
		}
	}()

	cache := ast.NewTreeCache(nil)
	defer cache.Close()

	finder := explore.NewFinder(cache, lsp.NewOperations(manager),
		explore.WithMaxDepth(cfg.Search.MaxDepth),
		explore.WithMaxMatches(cfg.Search.MaxMatches),
		explore.WithExclude(cfg.Search.Exclude...),
		explore.WithLogger(slogger),
	)

	result, err := finder.Search(ctx, explore.Query{
		Root:      root,
		EntryFile: entry,
		Function:  function,
		Pattern:   pattern,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	slogger.Info("search finished",
		slog.String("run_id", result.RunID),
		slog.Int("matches", len(result.Matches)),
		slog.Int("unresolved", len(result.Unresolved)),
		slog.Int("files_parsed", result.Stats.FilesParsed),
	)

	renderer := ux.NewReportRenderer(cmd.OutOrStdout(), outputMode(cmd, flags))
	return renderer.Render(result)
}

// newManager builds a language server manager for root with the
// configured server registered under its language.
func newManager(root string, rc config.ResolverConfig) *lsp.Manager {
	manager := lsp.NewManager(root, lsp.ManagerConfig{
		StartupTimeout:    rc.StartupTimeout,
		RequestTimeout:    rc.RequestTimeout,
		IndexTimeout:      rc.IndexTimeout,
		RequestsPerSecond: rc.RequestsPerSecond,
	})
	lc := lsp.LanguageConfig{
		Language:          rc.Language,
		Command:           rc.Command,
		Args:              rc.Args,
		Extensions:        rc.Extensions,
		ReadyNotification: rc.ReadyNotification,
	}
	if rc.InitializationOptions != nil {
		lc.InitializationOptions = rc.InitializationOptions
	}
	manager.Configs().Register(lc)
	return manager
}

func telemetryConfig(tc config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		ServiceName:    "treefinder",
		ServiceVersion: version,
		Traces:         tc.Traces,
		Metrics:        tc.Metrics,
		OTLPEndpoint:   tc.OTLPEndpoint,
		OTLPInsecure:   tc.OTLPInsecure,
		MetricsFile:    tc.MetricsFile,
	}
}

func outputMode(cmd *cobra.Command, flags *searchFlags) ux.Mode {
	switch {
	case flags.json:
		return ux.ModeJSON
	case flags.plain:
		return ux.ModePlain
	default:
		return ux.DetectMode(cmd.OutOrStdout())
	}
}
