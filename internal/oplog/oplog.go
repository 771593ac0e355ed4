// Package oplog adapts a zap logger to the ledger's operation callback so
// every balance mutation leaves a structured audit line.
package oplog

import (
	"context"

	"github.com/speakspace/credits/pkg/credits"
	"go.uber.org/zap"
)

// Logger emits one structured entry per ledger operation.
type Logger struct {
	base *zap.Logger
}

// New wires a zap logger into the ledger operation callback.
func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

// LogOperation implements credits.OperationLogger.
func (logger *Logger) LogOperation(_ context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount),
		zap.Int64("credits_after", entry.CreditsAfter),
		zap.String("status", entry.Status),
	}
	if reference := entry.ExternalReference.String(); reference != "" {
		fields = append(fields, zap.String("external_reference", reference))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.base.Warn("ledger operation failed", fields...)
		return
	}
	logger.base.Info("ledger operation", fields...)
}
