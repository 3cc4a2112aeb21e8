package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

func init() {
	Register("kafka", NewKafkaSink)
}

// KafkaInfo kafka的专属配置
type KafkaInfo struct {
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaSink 把告警与意图作为事件台账写进 kafka，供外部审计消费
type KafkaSink struct {
	ctx    context.Context
	writer *kafka.Writer
	info   KafkaInfo
	logger *zap.Logger
}

// ledgerRecord kafka台账记录
type ledgerRecord struct {
	Kind   string          `json:"kind"`
	Intent *pkg.ActuatorIntent `json:"intent,omitempty"`
	Alert  *pkg.AlertEvent     `json:"alert,omitempty"`
	Ts     time.Time       `json:"ts"`
}

func NewKafkaSink(ctx context.Context) (Template, error) {
	config := pkg.ConfigFromContext(ctx)
	var info KafkaInfo
	for _, sinkConfig := range config.Sink {
		if sinkConfig.Enable && sinkConfig.Type == "kafka" {
			if err := mapstructure.Decode(sinkConfig.Para, &info); err != nil {
				return nil, fmt.Errorf("解析kafka配置失败: %w", err)
			}
		}
	}
	if info.Topic == "" {
		info.Topic = "growgate-events"
	}
	if info.Timeout == 0 {
		info.Timeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(info.Brokers...),
		Topic:        info.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: info.Timeout,
		Async:        true, // 异步写，失败进ErrorLogger，不反压
	}
	return &KafkaSink{
		ctx:    ctx,
		writer: writer,
		info:   info,
		logger: pkg.LoggerFromContext(ctx),
	}, nil
}

func (k *KafkaSink) GetType() string {
	return "kafka"
}

func (k *KafkaSink) Start(events chan Event) {
	k.logger.Info("===KafkaSink started===", zap.String("topic", k.info.Topic))
	for {
		select {
		case <-k.ctx.Done():
			if err := k.writer.Close(); err != nil {
				k.logger.Error("关闭kafka writer失败", zap.Error(err))
			}
			k.logger.Info("===KafkaSink stopped===")
			return
		case e := <-events:
			if err := k.publish(e); err != nil {
				pkg.GetPerformanceMetrics().IncMsgErrors("kafka")
				k.logger.Error("kafka发布失败", zap.Error(err))
			}
		}
	}
}

func (k *KafkaSink) publish(e Event) error {
	rec := ledgerRecord{Kind: string(e.Kind), Ts: time.Now()}
	var key string
	switch e.Kind {
	case KindIntent:
		if e.Intent == nil {
			return nil
		}
		rec.Intent = e.Intent
		key = string(e.Intent.Role)
	case KindAlert:
		if e.Alert == nil {
			return nil
		}
		rec.Alert = e.Alert
		key = e.Alert.Source
	default:
		return nil // 快照走influxdb，不进台账
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化台账记录失败: %w", err)
	}
	return k.writer.WriteMessages(k.ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
}
