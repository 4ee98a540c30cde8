// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the process-wide tracer provider and the
// structured logger.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Buycar-arb/ToolForge/services/forge/config"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Options configures SetupTracing.
type Options struct {
	ServiceName string

	// Exporter is one of the config.TraceExporter* values.
	Exporter string

	// Endpoint and Insecure apply to the OTLP exporter.
	Endpoint string
	Insecure bool

	// Writer receives stdout-exporter spans. Nil uses os.Stderr.
	Writer io.Writer
}

// OptionsFromConfig maps the telemetry section of a run configuration.
func OptionsFromConfig(c config.TelemetryConfig) Options {
	return Options{
		ServiceName: c.ServiceName,
		Exporter:    c.TraceExporter,
		Endpoint:    c.OTLPEndpoint,
		Insecure:    c.OTLPInsecure,
	}
}

// SetupTracing installs a global TracerProvider and the W3C propagators.
//
// Description:
//
//	"none" leaves the default no-op provider in place and only installs the
//	propagators. "stdout" writes spans as JSON to opts.Writer. "otlp"
//	batches spans to a gRPC collector.
//
// Outputs:
//
//	ShutdownFunc - Never nil. Call it before exit to flush spans.
//	error - Unknown exporter or exporter construction failure.
func SetupTracing(ctx context.Context, opts Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch opts.Exporter {
	case "", config.TraceExporterNone:
		return noopShutdown, nil
	case config.TraceExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case config.TraceExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	default:
		return noopShutdown, fmt.Errorf("telemetry: unknown trace exporter %q", opts.Exporter)
	}
	if err != nil {
		return noopShutdown, fmt.Errorf("telemetry: create %s exporter: %w", opts.Exporter, err)
	}

	name := opts.ServiceName
	if name == "" {
		name = config.DefaultServiceName
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
		)),
	)
	otel.SetTracerProvider(tp)

	slog.Info("tracing initialized",
		slog.String("service", name),
		slog.String("exporter", opts.Exporter))
	return tp.Shutdown, nil
}

// NewLogger builds the process logger.
//
// Inputs:
//
//	w - Destination, normally os.Stderr.
//	level - "debug", "info", "warn" or "error". Empty means info.
//	format - "text" or "json". Empty means text.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("telemetry: log level %q: %w", level, err)
		}
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("telemetry: unknown log format %q", format)
	}
}
