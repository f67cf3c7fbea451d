// File: internal/observability/logsink.go
package observability

import (
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

// ZapLogSink implements schemas.LogSink on top of a zap logger. Entries are
// append-only structured records; nothing in the core reads them back.
type ZapLogSink struct {
	logger *zap.Logger
}

// NewZapLogSink builds a sink writing through the given logger.
func NewZapLogSink(logger *zap.Logger) *ZapLogSink {
	return &ZapLogSink{logger: logger.Named("oplog")}
}

// Record appends one operation log entry. Status "failed" and "error" are
// logged at warn level so they stand out without tripping error alerting.
func (s *ZapLogSink) Record(entryType, message, status string, metadata map[string]any) {
	fields := make([]zap.Field, 0, len(metadata)+2)
	fields = append(fields,
		zap.String("entry_type", entryType),
		zap.String("status", status),
	)
	for k, v := range metadata {
		fields = append(fields, zap.Any(k, v))
	}

	switch status {
	case "failed", "error":
		s.logger.Warn(message, fields...)
	default:
		s.logger.Info(message, fields...)
	}
}

var _ schemas.LogSink = (*ZapLogSink)(nil)

// NopLogSink discards every record. Useful in tests that do not assert on
// observability output.
type NopLogSink struct{}

func (NopLogSink) Record(string, string, string, map[string]any) {}

var _ schemas.LogSink = NopLogSink{}
