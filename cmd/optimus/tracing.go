package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/config"
)

// setupTracing exports spans as JSON lines to trace_file when it is set.
// Without it the global no-op provider stays in place. The returned func
// flushes pending spans and closes the file.
func setupTracing(cfg *config.Config) (func(), error) {
	if cfg.TraceFile == "" {
		return func() {}, nil
	}
	f, err := os.OpenFile(cfg.TraceFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("flush traces", "error", err)
		}
		f.Close()
	}, nil
}
