package notify

import (
	"context"

	"github.com/matheus3301/wallwatch/internal/feed"
	"go.uber.org/zap"
)

// LogSink writes one line per change.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) HandleBatch(_ context.Context, b feed.Batch) error {
	for _, c := range b.Changes {
		fields := []zap.Field{
			zap.String("batch_id", b.ID),
			zap.Int64("wall_id", b.WallID),
			zap.String("check", string(b.Check)),
			zap.String("change", c.Kind.String()),
			zap.Int64("item_id", c.ItemID),
		}
		if c.Kind == feed.ChangeMoved {
			fields = append(fields, zap.Stringer("from", c.From))
		}
		if c.Item != nil {
			fields = append(fields, zap.Stringer("category", c.Item.Category))
		}
		s.logger.Info("wall change", fields...)
	}
	return nil
}

func (s *LogSink) HandleFault(_ context.Context, f feed.Fault) error {
	s.logger.Error("check fault",
		zap.Int64("wall_id", f.WallID),
		zap.String("check", string(f.Check)),
		zap.Stringer("kind", f.Kind),
		zap.String("message", f.Message))
	return nil
}
