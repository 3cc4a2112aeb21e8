// Package notify 告警分发器：订阅总线上的告警事件，按级别路由到外部渠道。
// 投递失败重试退避，永远不反压上游的控制循环。
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// delivery 一个已启用渠道及其接收的级别集
type delivery struct {
	ch         Channel
	severities map[pkg.Severity]bool // 空集表示全收
}

func (d delivery) accepts(s pkg.Severity) bool {
	return len(d.severities) == 0 || d.severities[s]
}

// Dispatcher 告警分发器。单worker消费有界队列
type Dispatcher struct {
	logger    *zap.Logger
	channels  []delivery
	retryMax  int
	queueSize int

	quietStart int // 当日分钟数，-1 表示无静默期
	quietEnd   int

	now     func() time.Time
	backoff func(attempt int) time.Duration

	mu    sync.Mutex
	queue []pkg.AlertEvent
	wake  chan struct{}
}

func New(ctx context.Context) (*Dispatcher, error) {
	config := pkg.ConfigFromContext(ctx)
	logger := pkg.LoggerFromContext(ctx)

	d := &Dispatcher{
		logger:     logger,
		retryMax:   config.Notify.RetryMax,
		queueSize:  config.Notify.QueueSize,
		quietStart: -1,
		quietEnd:   -1,
		now:        time.Now,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * 500 * time.Millisecond
		},
		wake: make(chan struct{}, 1),
	}
	if d.queueSize <= 0 {
		d.queueSize = 256
	}
	if config.Notify.QuietStart != "" && config.Notify.QuietEnd != "" {
		var err error
		if d.quietStart, err = parseClock(config.Notify.QuietStart); err != nil {
			return nil, err
		}
		if d.quietEnd, err = parseClock(config.Notify.QuietEnd); err != nil {
			return nil, err
		}
	}
	for _, chCfg := range config.Notify.Channels {
		if !chCfg.Enable {
			continue
		}
		factory, exists := Factories[chCfg.Type]
		if !exists {
			return nil, fmt.Errorf("未注册的通知渠道类型: %s", chCfg.Type)
		}
		ch, err := factory(ctx, chCfg)
		if err != nil {
			return nil, fmt.Errorf("初始化渠道 %s 失败: %w", chCfg.Type, err)
		}
		sevs := make(map[pkg.Severity]bool, len(chCfg.Severities))
		for _, s := range chCfg.Severities {
			sevs[pkg.ParseSeverity(s)] = true
		}
		d.channels = append(d.channels, delivery{ch: ch, severities: sevs})
		logger.Info("通知渠道已启用", zap.String("type", chCfg.Type))
	}
	return d, nil
}

func parseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("非法时刻 %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("非法时刻 %q", v)
	}
	return h*60 + m, nil
}

// Enqueue 入队一条告警。队满时先丢最旧的 Info，保住 Warning/Critical
func (d *Dispatcher) Enqueue(a pkg.AlertEvent) {
	d.mu.Lock()
	if len(d.queue) >= d.queueSize {
		dropped := false
		for i, q := range d.queue {
			if q.Severity == pkg.SeverityInfo {
				d.queue = append(d.queue[:i], d.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			d.queue = d.queue[1:]
		}
		pkg.GetPerformanceMetrics().IncMsgErrors("notify")
	}
	d.queue = append(d.queue, a)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start 启动分发worker，随ctx取消退出
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		d.logger.Info("告警分发器启动", zap.Int("channels", len(d.channels)))
		for {
			select {
			case <-ctx.Done():
				d.logger.Info("告警分发器退出")
				return
			case <-d.wake:
				d.drain(ctx)
			}
		}
	}()
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		a := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.Dispatch(ctx, a)
	}
}

// Dispatch 投递一条告警到所有匹配渠道。Critical 无条件穿透静默期
func (d *Dispatcher) Dispatch(ctx context.Context, a pkg.AlertEvent) {
	if a.Severity != pkg.SeverityCritical && d.inQuietHours(d.now()) {
		d.logger.Debug("静默期抑制非紧急告警", zap.String("message", a.Message))
		return
	}
	for _, dv := range d.channels {
		if !dv.accepts(a.Severity) {
			continue
		}
		d.sendWithRetry(ctx, dv.ch, a)
	}
}

// inQuietHours 静默窗口判断，支持跨午夜（如 22:00-07:00）
func (d *Dispatcher) inQuietHours(now time.Time) bool {
	if d.quietStart < 0 || d.quietEnd < 0 || d.quietStart == d.quietEnd {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	if d.quietStart < d.quietEnd {
		return m >= d.quietStart && m < d.quietEnd
	}
	return m >= d.quietStart || m < d.quietEnd
}

// sendWithRetry 指数退避重试。渠道投递失败只记日志，绝不回传到控制链路
func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, a pkg.AlertEvent) {
	var err error
	for attempt := 0; attempt <= d.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff(attempt - 1)):
			}
		}
		if err = ch.Send(a); err == nil {
			pkg.GetPerformanceMetrics().IncMsgProcessed("notify")
			return
		}
		d.logger.Warn("告警投递失败",
			zap.String("channel", ch.Name()), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	pkg.GetPerformanceMetrics().IncMsgErrors("notify")
	d.logger.Error("告警投递放弃重试",
		zap.String("channel", ch.Name()), zap.String("message", a.Message), zap.Error(err))
}
