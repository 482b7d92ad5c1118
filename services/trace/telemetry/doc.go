// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry exporters for treefinder.
//
// Packages record spans and metrics through otel.Tracer and otel.Meter
// directly. Init only decides where that data goes, so swapping backends is
// a configuration change.
//
// # Traces
//
// "none" (default), "stdout" (pretty JSON on stderr) or "otlp" (gRPC to
// OTLPEndpoint).
//
// # Metrics
//
// "none" (default), "stdout" or "prometheus". A search is a one-shot
// process with nothing to scrape, so the Prometheus registry is written to
// MetricsFile in text exposition format on shutdown, ready for a
// node_exporter textfile collector.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
package telemetry
