package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// 各量的默认过期阈值，传感器的天然上报节奏不同
var defaultStale = map[pkg.Quantity]time.Duration{
	pkg.QuantityTemperature: 60 * time.Second,
	pkg.QuantityHumidity:    60 * time.Second,
	pkg.QuantityVPD:         60 * time.Second, // 直测VPD传感器
	pkg.QuantityLux:         120 * time.Second,
	pkg.QuantityCO2:         120 * time.Second,
	pkg.QuantityPPFD:        120 * time.Second,
	pkg.QuantityEC:          5 * time.Minute,
	pkg.QuantityPH:          5 * time.Minute,
	pkg.QuantityWaterLevel:  10 * time.Minute,
}

// AlertFunc 告警回调，由 notify 的事件总线提供
type AlertFunc func(pkg.AlertEvent)

// Aggregator 聚合器：异步接收读数，周期性发布一致的房间快照。
// Ingest 和 Snapshot 可并发调用，互不阻塞。
type Aggregator struct {
	ctx    context.Context
	logger *zap.Logger

	room       string
	leafOffset float64
	interval   time.Duration
	stale      map[pkg.Quantity]time.Duration
	programs   map[pkg.Role]*vm.Program

	mu     sync.Mutex // 只保护 latest 的写入与拷贝，派生计算在副本上做
	latest map[pkg.Quantity]pkg.Reading

	wasStale map[pkg.Quantity]bool // 已告过警的过期量，避免每tick重复告警

	store     *pkg.SnapshotStore
	alert     AlertFunc
	onPublish func(*pkg.RoomSnapshot) // 可选，发布后的遥测扇出
}

// SetPublishHook 注入快照发布后的回调，须在 Start 之前调用
func (a *Aggregator) SetPublishHook(fn func(*pkg.RoomSnapshot)) {
	a.onPublish = fn
}

// New 创建聚合器并预编译标定表达式
func New(ctx context.Context, store *pkg.SnapshotStore, alert AlertFunc) (*Aggregator, error) {
	config := pkg.ConfigFromContext(ctx)
	programs, err := compileCalibrations(config.Sensor.Calibrate)
	if err != nil {
		return nil, err
	}
	stale := make(map[pkg.Quantity]time.Duration, len(defaultStale))
	for q, d := range defaultStale {
		stale[q] = d
	}
	for q, d := range config.Sensor.Stale {
		stale[pkg.Quantity(q)] = d
	}
	return &Aggregator{
		ctx:        ctx,
		logger:     pkg.LoggerFromContext(ctx),
		room:       config.Room.Name,
		leafOffset: config.Room.LeafTempOffset,
		interval:   config.Sensor.Interval,
		stale:      stale,
		programs:   programs,
		latest:     make(map[pkg.Quantity]pkg.Reading),
		wasStale:   make(map[pkg.Quantity]bool),
		store:      store,
		alert:      alert,
	}, nil
}

// Ingest 接收一条原始读数：标定、单位归一、合法性检查后更新 latest。
// 由各连接器的 goroutine 并发调用。
func (a *Aggregator) Ingest(r pkg.Reading) error {
	metrics := pkg.GetPerformanceMetrics()
	metrics.IncMsgReceived("sensor_ingest")

	if r.Quantity == "" {
		q, ok := pkg.RoleQuantity(r.Role)
		if !ok {
			metrics.IncMsgErrors("sensor_ingest")
			a.logger.Warn("未知角色的读数被丢弃", zap.String("role", string(r.Role)))
			return nil
		}
		r.Quantity = q
	}
	if r.Ts.IsZero() {
		r.Ts = time.Now()
	}
	// 标定表达式失败时隔离该读数，告警但不中断
	if program, ok := a.programs[r.Role]; ok {
		v, err := runCalibration(program, r.Value)
		if err != nil {
			metrics.IncMsgErrors("sensor_calibrate")
			a.alert(pkg.NewAlert(pkg.SeverityWarning, "sensor",
				"标定失败，读数已隔离: "+string(r.Role)+": "+err.Error()))
			return nil
		}
		r.Value = v
	}
	r = normalizeUnits(r)
	if !validReading(r) {
		metrics.IncMsgErrors("sensor_ingest")
		a.logger.Warn("非法读数被丢弃", zap.Any("reading", r))
		return nil
	}

	a.mu.Lock()
	// 同一量只保留最新读数，旧的直接取代
	if prev, ok := a.latest[r.Quantity]; !ok || !r.Ts.Before(prev.Ts) {
		a.latest[r.Quantity] = r
	}
	a.mu.Unlock()
	metrics.IncMsgProcessed("sensor_ingest")
	return nil
}

// Snapshot 同步返回最新一致快照，非阻塞
func (a *Aggregator) Snapshot() *pkg.RoomSnapshot {
	return a.store.Load()
}

// Start 周期性构建并发布快照，直到 ctx 取消
func (a *Aggregator) Start() {
	a.logger.Info("===聚合器启动===", zap.Duration("interval", a.interval))
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("===聚合器退出===")
			return
		case now := <-ticker.C:
			a.publish(now)
		}
	}
}

// publish 拷贝 latest 后在副本上做过期判定与派生计算，最后原子发布。
// 锁内只有一次 map 拷贝，绝不跨派生计算持锁。
func (a *Aggregator) publish(now time.Time) {
	a.mu.Lock()
	copied := make(map[pkg.Quantity]pkg.Reading, len(a.latest))
	for q, r := range a.latest {
		copied[q] = r
	}
	a.mu.Unlock()

	values := make(map[pkg.Quantity]pkg.Value, len(copied)+2)
	for q, r := range copied {
		threshold, ok := a.stale[q]
		if !ok {
			threshold = time.Minute
		}
		if now.Sub(r.Ts) > threshold {
			// 过期槽位必须是 Unknown，不允许带过期数值参与控制
			values[q] = pkg.Unknown()
			if !a.wasStale[q] {
				a.wasStale[q] = true
				a.alert(pkg.NewAlert(pkg.SeverityWarning, "sensor",
					"传感器读数过期: "+string(q)))
			}
			continue
		}
		if a.wasStale[q] {
			a.wasStale[q] = false
			a.alert(pkg.NewAlert(pkg.SeverityInfo, "sensor",
				"传感器读数恢复: "+string(q)))
		}
		values[q] = pkg.KnownValue(r.Value, r.Ts)
	}

	// 派生量：温湿度齐全时派生值优先（带叶温偏移，比裸传感器更贴近冠层）；
	// 缺温湿度但有新鲜的直测VPD读数时保留直测值，两者都没有才置 Unknown
	temp, hum := values[pkg.QuantityTemperature], values[pkg.QuantityHumidity]
	if temp.Known && hum.Known {
		values[pkg.QuantityVPD] = pkg.KnownValue(VPD(temp.V, hum.V, a.leafOffset), now)
		values[pkg.QuantityDewpoint] = pkg.KnownValue(Dewpoint(temp.V, hum.V), now)
	} else {
		if v, ok := values[pkg.QuantityVPD]; !ok || !v.Known {
			values[pkg.QuantityVPD] = pkg.Unknown()
		}
		values[pkg.QuantityDewpoint] = pkg.Unknown()
	}

	snap := &pkg.RoomSnapshot{Room: a.room, Values: values, Ts: now}
	seq := a.store.Publish(snap)
	a.logger.Debug("快照已发布", zap.Uint64("seq", seq), zap.Int("values", len(values)))
	if a.onPublish != nil {
		a.onPublish(snap)
	}
}

// normalizeUnits 单位归一：华氏转摄氏，百分比限幅
func normalizeUnits(r pkg.Reading) pkg.Reading {
	switch r.Unit {
	case "F", "°F":
		r.Value = (r.Value - 32) * 5 / 9
		r.Unit = "°C"
	}
	switch r.Quantity {
	case pkg.QuantityHumidity, pkg.QuantityWaterLevel:
		if r.Value < 0 {
			r.Value = 0
		}
		if r.Value > 100 {
			r.Value = 100
		}
	}
	return r
}

// validReading 拒绝 NaN/Inf 以及明显超出物理可能范围的值
func validReading(r pkg.Reading) bool {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return false
	}
	switch r.Quantity {
	case pkg.QuantityTemperature:
		return r.Value >= -40 && r.Value <= 80
	case pkg.QuantityCO2:
		return r.Value >= 0 && r.Value <= 20000
	case pkg.QuantityPH:
		return r.Value >= 0 && r.Value <= 14
	case pkg.QuantityEC:
		return r.Value >= 0 && r.Value <= 20000
	case pkg.QuantityPPFD:
		return r.Value >= 0 && r.Value <= 5000
	case pkg.QuantityLux:
		return r.Value >= 0 && r.Value <= 200000
	}
	return true
}
