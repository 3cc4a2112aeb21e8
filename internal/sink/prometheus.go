package sink

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

func init() {
	Register("prometheus", NewPrometheusSink)
}

// PrometheusInfo Prometheus 的专属配置
type PrometheusInfo struct {
	Port     int    `mapstructure:"port"`
	Endpoint string `mapstructure:"endpoint"`
}

// PrometheusSink 暴露房态和执行器状态给 Prometheus 抓取
type PrometheusSink struct {
	ctx      context.Context
	info     PrometheusInfo
	logger   *zap.Logger
	state    *prometheus.GaugeVec
	actuator *prometheus.GaugeVec
	alerts   *prometheus.CounterVec
}

func NewPrometheusSink(ctx context.Context) (Template, error) {
	log := pkg.LoggerFromContext(ctx)
	config := pkg.ConfigFromContext(ctx)
	var info PrometheusInfo
	for _, sinkConfig := range config.Sink {
		if sinkConfig.Enable && sinkConfig.Type == "prometheus" {
			if err := mapstructure.Decode(sinkConfig.Para, &info); err != nil {
				return nil, fmt.Errorf("解析prometheus配置失败: %w", err)
			}
		}
	}
	if info.Endpoint == "" {
		info.Endpoint = "/metrics"
	}
	p := &PrometheusSink{
		ctx:    ctx,
		info:   info,
		logger: log,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "growgate_room_state",
			Help: "Latest known value per sensed quantity",
		}, []string{"room", "quantity"}),
		actuator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "growgate_actuator_on",
			Help: "Last commanded actuator state (1 on, 0 off)",
		}, []string{"role"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growgate_alerts_total",
			Help: "Alert events by severity",
		}, []string{"severity", "source"}),
	}
	for _, c := range []prometheus.Collector{p.state, p.actuator, p.alerts} {
		if err := prometheus.Register(c); err != nil {
			return nil, fmt.Errorf("注册 Prometheus 指标失败: %w", err)
		}
	}

	if info.Port > 0 {
		// 启动 HTTP 服务器，暴露 Prometheus 指标
		http.Handle(info.Endpoint, promhttp.Handler())
		go func() {
			log.Info("Starting Prometheus HTTP server",
				zap.Int("port", info.Port), zap.String("endpoint", info.Endpoint))
			if err := http.ListenAndServe(fmt.Sprintf(":%d", info.Port), nil); err != nil {
				log.Error("Prometheus HTTP server failed to start", zap.Error(err))
			}
		}()
	}
	return p, nil
}

func (p *PrometheusSink) GetType() string {
	return "prometheus"
}

func (p *PrometheusSink) Start(events chan Event) {
	p.logger.Info("===PrometheusSink started===")
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info("===PrometheusSink stopped===")
			return
		case e := <-events:
			p.publish(e)
		}
	}
}

func (p *PrometheusSink) publish(e Event) {
	switch e.Kind {
	case KindSnapshot:
		if e.Snapshot == nil {
			return
		}
		for q, v := range e.Snapshot.Values {
			if !v.Known {
				// Unknown 槽位从指标里摘掉，别让过期值在看板上装活着
				p.state.DeleteLabelValues(e.Snapshot.Room, string(q))
				continue
			}
			p.state.WithLabelValues(e.Snapshot.Room, string(q)).Set(v.V)
		}
	case KindIntent:
		if e.Intent == nil {
			return
		}
		on := 0.0
		if e.Intent.On {
			on = 1.0
		}
		p.actuator.WithLabelValues(string(e.Intent.Role)).Set(on)
	case KindAlert:
		if e.Alert == nil {
			return
		}
		p.alerts.WithLabelValues(e.Alert.Severity.String(), e.Alert.Source).Inc()
	}
}
