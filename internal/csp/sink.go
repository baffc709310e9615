package csp

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes each report as one structured warning.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a Sink backed by logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("csp")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, r ViolationReport) {
	s.logger.Warn("csp violation",
		zap.String("id", r.ID),
		zap.String("format", string(r.Format)),
		zap.String("document_uri", r.DocumentURI),
		zap.String("violated_directive", r.ViolatedDirective),
		zap.String("effective_directive", r.EffectiveDirective),
		zap.String("blocked_uri", r.BlockedURI),
		zap.String("source_file", r.SourceFile),
		zap.Int("line", r.Line),
		zap.Int("column", r.Column),
		zap.String("disposition", string(r.Disposition)),
		zap.String("sample_digest", r.SampleDigest),
		zap.Strings("flags", r.Flags),
	)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r ViolationReport)

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, r ViolationReport) {
	f(ctx, r)
}
