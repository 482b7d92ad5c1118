// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("treefinder.explore")
	meter  = otel.Meter("treefinder.explore")
)

var (
	searchLatency  metric.Float64Histogram
	searchMatches  metric.Int64Histogram
	resolveResults metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		searchLatency, err = meter.Float64Histogram(
			"explore_search_duration_seconds",
			metric.WithDescription("Duration of call-graph searches"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		searchMatches, err = meter.Int64Histogram(
			"explore_search_matches",
			metric.WithDescription("Matches reported per search"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolveResults, err = meter.Int64Counter(
			"explore_resolve_total",
			metric.WithDescription("Cross-file call resolutions by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSearchMetrics records one finished search.
func recordSearchMetrics(ctx context.Context, duration time.Duration, result *Result, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("success", err == nil),
		attribute.Bool("entry_found", result.EntryFound),
		attribute.Bool("truncated", result.Truncated),
	)
	searchLatency.Record(ctx, duration.Seconds(), attrs)
	searchMatches.Record(ctx, int64(len(result.Matches)), attrs)
}

// recordResolve counts one resolution attempt. outcome is one of
// "resolved", "unresolved" or "error".
func recordResolve(ctx context.Context, outcome string) {
	if initMetrics() != nil {
		return
	}
	resolveResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func startSearchSpan(ctx context.Context, q Query) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Finder.Search",
		trace.WithAttributes(
			attribute.String("explore.entry_file", q.EntryFile),
			attribute.String("explore.function", q.Function),
			attribute.String("explore.pattern", q.Pattern),
		),
	)
}

func setSearchSpanResult(span trace.Span, result *Result, err error) {
	span.SetAttributes(
		attribute.String("explore.run_id", result.RunID),
		attribute.Bool("explore.entry_found", result.EntryFound),
		attribute.Int("explore.matches", len(result.Matches)),
		attribute.Int("explore.unresolved", len(result.Unresolved)),
		attribute.Int("explore.nodes_visited", result.Stats.NodesVisited),
		attribute.Bool("explore.truncated", result.Truncated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
