package notify

import (
	"context"

	"go.uber.org/zap"

	"growgate/internal/pkg"
)

func init() {
	RegisterChannel("log", NewLogChannel)
}

// LogChannel 把告警写进结构化日志，永远可用的兜底渠道
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(ctx context.Context, _ pkg.ChannelConfig) (Channel, error) {
	return &LogChannel{logger: pkg.LoggerFromContext(ctx)}, nil
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(a pkg.AlertEvent) error {
	fields := []zap.Field{
		zap.String("id", a.ID.String()),
		zap.String("source", a.Source),
		zap.Time("ts", a.Ts),
	}
	switch a.Severity {
	case pkg.SeverityCritical:
		l.logger.Error("[告警] "+a.Message, fields...)
	case pkg.SeverityWarning:
		l.logger.Warn("[告警] "+a.Message, fields...)
	default:
		l.logger.Info("[告警] "+a.Message, fields...)
	}
	return nil
}
