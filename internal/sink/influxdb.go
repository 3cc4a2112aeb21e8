package sink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

func init() {
	Register("influxdb", NewInfluxDbSink)
}

// InfluxDbInfo InfluxDB的专属配置
type InfluxDbInfo struct {
	URL       string `mapstructure:"url"`
	Org       string `mapstructure:"org"`
	Token     string `mapstructure:"token"`
	Bucket    string `mapstructure:"bucket"`
	BatchSize uint   `mapstructure:"batch_size"`
}

// InfluxDbSink 把房态快照与执行器意图写进 InfluxDB 时序库
type InfluxDbSink struct {
	ctx      context.Context
	client   influxdb2.Client
	writeAPI api.WriteAPI
	info     InfluxDbInfo
	logger   *zap.Logger
}

func NewInfluxDbSink(ctx context.Context) (Template, error) {
	config := pkg.ConfigFromContext(ctx)
	var info InfluxDbInfo
	for _, sinkConfig := range config.Sink {
		if sinkConfig.Enable && sinkConfig.Type == "influxdb" {
			if err := mapstructure.Decode(sinkConfig.Para, &info); err != nil {
				return nil, fmt.Errorf("解析influxdb配置失败: %w", err)
			}
		}
	}
	client := influxdb2.NewClientWithOptions(info.URL, info.Token,
		influxdb2.DefaultOptions().SetBatchSize(info.BatchSize))
	writeAPI := client.WriteAPI(info.Org, info.Bucket)
	// 异步写入的错误从专属通道流出，只记日志
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			pkg.LoggerFromContext(ctx).Error("influxdb写入失败", zap.Error(err))
		}
	}()
	return &InfluxDbSink{
		ctx:      ctx,
		client:   client,
		writeAPI: writeAPI,
		info:     info,
		logger:   pkg.LoggerFromContext(ctx),
	}, nil
}

func (b *InfluxDbSink) GetType() string {
	return "influxdb"
}

func (b *InfluxDbSink) Start(events chan Event) {
	b.logger.Info("===InfluxDbSink started===")
	for {
		select {
		case <-b.ctx.Done():
			b.Stop()
			b.logger.Info("===InfluxDbSink stopped===")
			return
		case e := <-events:
			b.publish(e)
		}
	}
}

func (b *InfluxDbSink) publish(e Event) {
	switch e.Kind {
	case KindSnapshot:
		if e.Snapshot == nil {
			return
		}
		fields := make(map[string]interface{})
		for q, v := range e.Snapshot.Values {
			if v.Known {
				fields[string(q)] = v.V
			}
		}
		if len(fields) == 0 {
			return
		}
		p := influxdb2.NewPoint(
			"room_state",
			map[string]string{"room": e.Snapshot.Room},
			fields,
			e.Snapshot.Ts,
		)
		b.writeAPI.WritePoint(p)
	case KindIntent:
		if e.Intent == nil {
			return
		}
		p := influxdb2.NewPoint(
			"actuator_intents",
			map[string]string{
				"role":     string(e.Intent.Role),
				"priority": e.Intent.Priority.String(),
			},
			map[string]interface{}{
				"on":     e.Intent.On,
				"level":  e.Intent.Level,
				"reason": e.Intent.Reason,
			},
			e.Intent.Ts,
		)
		b.writeAPI.WritePoint(p)
	}
}

// Stop 停止 InfluxDbSink
func (b *InfluxDbSink) Stop() {
	b.writeAPI.Flush() // 确保所有数据被写入
	b.client.Close()
}
