// Package control 是闭环的核心：定周期把最新房态快照和生效档案
// 折算成执行器意图。死区控制，不做点跟踪，避免执行器高频抖动。
package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/registry"
	"growgate/internal/safety"
)

// 最小驻留tick数默认表，来自各类设备的防短周期经验值。
// 压缩机和加热体被高频通断会损坏，config 的 control::dwell 可逐项覆盖
var defaultDwell = map[pkg.Role]int{
	pkg.RoleHumidifier:   3,
	pkg.RoleDehumidifier: 4,
	pkg.RoleHeater:       1,
	pkg.RoleCooler:       2,
	pkg.RoleFanExhaust:   1,
	pkg.RoleCO2:          2,
}

// 受控量与其升/降执行器的绑定关系
type binding struct {
	quantity pkg.Quantity
	raiser   pkg.Role // 量偏低时开
	lowerer  pkg.Role // 量偏高时开
}

// Engine 定点引擎。单goroutine驱动，内部状态不需要锁
type Engine struct {
	logger    *zap.Logger
	alert     func(pkg.AlertEvent)
	store     *pkg.SnapshotStore
	profiles  *profile.Manager
	interlock *safety.Interlock
	registry  *registry.Registry
	emit      func(pkg.ActuatorIntent)
	lightsOn  func() bool

	interval     time.Duration
	dwell        map[pkg.Role]int
	nightVPDHold bool

	tickN      int
	lastState  map[pkg.Role]bool
	lastChange map[pkg.Role]int
	missing    map[pkg.Role]bool // 已告警过的未登记角色，避免每tick刷屏
}

func New(ctx context.Context, store *pkg.SnapshotStore, profiles *profile.Manager,
	interlock *safety.Interlock, reg *registry.Registry,
	emit func(pkg.ActuatorIntent), alert func(pkg.AlertEvent)) *Engine {

	config := pkg.ConfigFromContext(ctx)
	dwell := make(map[pkg.Role]int, len(defaultDwell))
	for r, n := range defaultDwell {
		dwell[r] = n
	}
	for name, n := range config.Control.Dwell {
		dwell[pkg.Role(name)] = n
	}
	return &Engine{
		logger:       pkg.LoggerFromContext(ctx),
		alert:        alert,
		store:        store,
		profiles:     profiles,
		interlock:    interlock,
		registry:     reg,
		emit:         emit,
		lightsOn:     func() bool { return true },
		interval:     config.Control.Interval,
		dwell:        dwell,
		nightVPDHold: config.Control.NightVPDHold,
		lastState:    make(map[pkg.Role]bool),
		lastChange:   make(map[pkg.Role]int),
		missing:      make(map[pkg.Role]bool),
	}
}

// SetLightsOn 注入光周期状态源，熄灯期的VPD控制策略依赖它
func (e *Engine) SetLightsOn(fn func() bool) {
	if fn != nil {
		e.lightsOn = fn
	}
}

// Start 启动控制循环，随ctx取消退出
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		e.logger.Info("控制循环启动", zap.Duration("interval", e.interval))
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("控制循环退出")
				return
			case <-ticker.C:
				timer := pkg.GetPerformanceMetrics().NewTimer("control.tick")
				e.Tick()
				timer.StopAndLog(e.logger)
			}
		}
	}()
}

// Tick 执行一轮控制决策。导出是为了测试能单步驱动
func (e *Engine) Tick() {
	e.tickN++
	snap := e.store.Load()

	// 硬限位评估先行，任何模式都不能跳过
	if e.interlock.Observe(snap) {
		e.forceAllOff("硬限位越界触发紧急停机")
		return
	}
	mode := e.interlock.Mode()
	if mode == pkg.ModeEmergencyStop {
		// 停机保持期：对尚未关断的角色继续下发关断
		e.forceAllOff("紧急停机保持")
		return
	}
	if mode != pkg.ModeAuto {
		return // 手动模式不产生自动意图
	}

	prof := e.profiles.Active()
	pkg.GetPerformanceMetrics().IncMsgProcessed("control")

	var proposals []pkg.ActuatorIntent
	proposals = append(proposals, e.evalQuantity(snap, pkg.QuantityTemperature, prof.Temperature,
		binding{pkg.QuantityTemperature, pkg.RoleHeater, pkg.RoleCooler})...)
	proposals = append(proposals, e.evalHumidity(snap, prof)...)
	proposals = append(proposals, e.evalQuantity(snap, pkg.QuantityCO2, prof.CO2,
		binding{pkg.QuantityCO2, pkg.RoleCO2, pkg.RoleFanExhaust})...)

	survivors := e.resolveAntagonists(snap, prof, proposals)
	for _, in := range survivors {
		e.apply(in)
	}
}

// evalQuantity 死区判定：低于区间开升挡、高于区间开降挡，区间内两侧关
func (e *Engine) evalQuantity(snap *pkg.RoomSnapshot, q pkg.Quantity, band pkg.Range, b binding) []pkg.ActuatorIntent {
	v := snap.Get(q)
	if !v.Known {
		// Unknown 冻结该量的执行器于最后指令状态，盲控比不控更危险
		return nil
	}
	now := time.Now()
	prio := e.priorityFor(q, v.V)
	switch {
	case v.V < band.Min:
		return []pkg.ActuatorIntent{
			{Role: b.raiser, On: true, Quantity: q, Priority: prio, Ts: now,
				Reason: fmt.Sprintf("%s=%.2f 低于 %.2f", q, v.V, band.Min)},
			{Role: b.lowerer, On: false, Quantity: q, Priority: prio, Ts: now,
				Reason: fmt.Sprintf("%s 偏低，关闭降挡", q)},
		}
	case v.V > band.Max:
		return []pkg.ActuatorIntent{
			{Role: b.lowerer, On: true, Quantity: q, Priority: prio, Ts: now,
				Reason: fmt.Sprintf("%s=%.2f 高于 %.2f", q, v.V, band.Max)},
			{Role: b.raiser, On: false, Quantity: q, Priority: prio, Ts: now,
				Reason: fmt.Sprintf("%s 偏高，关闭升挡", q)},
		}
	default:
		return []pkg.ActuatorIntent{
			{Role: b.raiser, On: false, Quantity: q, Priority: pkg.PriorityComfort, Ts: now,
				Reason: fmt.Sprintf("%s 在目标区间内", q)},
			{Role: b.lowerer, On: false, Quantity: q, Priority: pkg.PriorityComfort, Ts: now,
				Reason: fmt.Sprintf("%s 在目标区间内", q)},
		}
	}
}

// evalHumidity VPD优先于相对湿度；档案未给VPD区间（干燥模式里只按湿度走的
// 时段）时直接用湿度；熄灯且未开夜间保持时退让到硬限位区间
func (e *Engine) evalHumidity(snap *pkg.RoomSnapshot, prof profile.Profile) []pkg.ActuatorIntent {
	q, band := pkg.QuantityVPD, prof.VPD
	v := snap.Get(q)
	if band.Max <= band.Min || !v.Known {
		q, band = pkg.QuantityHumidity, prof.Humidity
		v = snap.Get(q)
		if !v.Known {
			return nil
		}
	}
	// 干燥期灯全程灭着，湿度包线照常执行，不做夜间放宽
	if prof.Stage != profile.StageDrying && !e.lightsOn() && !e.nightVPDHold {
		hard, ok := e.interlock.Limit(q)
		if !ok || (v.V >= hard.Min && v.V <= hard.Max) {
			return nil // 夜间放宽，只守硬限位
		}
		band = hard
	}
	// VPD偏高=空气偏干=需要加湿，升降方向与湿度相反
	b := binding{q, pkg.RoleHumidifier, pkg.RoleDehumidifier}
	if q == pkg.QuantityVPD {
		b = binding{q, pkg.RoleDehumidifier, pkg.RoleHumidifier}
	}
	return e.evalQuantity(snap, q, band, b)
}

// priorityFor 测量值越出硬限位区间时按安全驱动处理
func (e *Engine) priorityFor(q pkg.Quantity, v float64) pkg.Priority {
	if hard, ok := e.interlock.Limit(q); ok && (v < hard.Min || v > hard.Max) {
		return pkg.PrioritySafety
	}
	return pkg.PriorityComfort
}

// 互斥对：两者同时要求开启时必须有一方让路
var antagonists = [][2]pkg.Role{
	{pkg.RoleHeater, pkg.RoleFanExhaust},
	{pkg.RoleHumidifier, pkg.RoleDehumidifier},
	{pkg.RoleCO2, pkg.RoleFanExhaust},
}

// resolveAntagonists 互斥裁决：安全驱动压过舒适驱动；同级比偏差归一化幅度。
// 落败方的意图被丢弃并记一条 Info 告警，冲突要可见，不能静默吞掉
func (e *Engine) resolveAntagonists(snap *pkg.RoomSnapshot, prof profile.Profile, proposals []pkg.ActuatorIntent) []pkg.ActuatorIntent {
	// 同角色多条意图时，开启请求覆盖关闭请求
	byRole := make(map[pkg.Role]pkg.ActuatorIntent, len(proposals))
	for _, in := range proposals {
		if cur, ok := byRole[in.Role]; ok {
			if !cur.On && in.On || (in.On == cur.On && in.Priority > cur.Priority) {
				byRole[in.Role] = in
			}
			continue
		}
		byRole[in.Role] = in
	}

	for _, pair := range antagonists {
		a, aok := byRole[pair[0]]
		b, bok := byRole[pair[1]]
		if !aok || !bok || !a.On || !b.On {
			continue
		}
		winner, loser := a, b
		switch {
		case a.Priority != b.Priority:
			if b.Priority > a.Priority {
				winner, loser = b, a
			}
		default:
			if e.deviation(snap, prof, b.Quantity) > e.deviation(snap, prof, a.Quantity) {
				winner, loser = b, a
			}
		}
		delete(byRole, loser.Role)
		e.alert(pkg.NewAlert(pkg.SeverityInfo, "control",
			fmt.Sprintf("互斥冲突: %s 被 %s 压制 (%s)", loser.Role, winner.Role, winner.Reason)))
	}

	out := make([]pkg.ActuatorIntent, 0, len(byRole))
	for _, in := range byRole {
		out = append(out, in)
	}
	return out
}

// deviation 归一化越界幅度，同优先级冲突时偏差大的量获胜
func (e *Engine) deviation(snap *pkg.RoomSnapshot, prof profile.Profile, q pkg.Quantity) float64 {
	var band pkg.Range
	switch q {
	case pkg.QuantityTemperature:
		band = prof.Temperature
	case pkg.QuantityHumidity:
		band = prof.Humidity
	case pkg.QuantityVPD:
		band = prof.VPD
	case pkg.QuantityCO2:
		band = prof.CO2
	default:
		return 0
	}
	v := snap.Get(q)
	if !v.Known {
		return 0
	}
	width := band.Max - band.Min
	if width <= 0 {
		width = 1
	}
	switch {
	case v.V < band.Min:
		return (band.Min - v.V) / width
	case v.V > band.Max:
		return (v.V - band.Max) / width
	}
	return 0
}

// apply 驻留检查、登记表检查、闸门过闸后才真正下发
func (e *Engine) apply(in pkg.ActuatorIntent) {
	prev, seen := e.lastState[in.Role]
	if seen && prev == in.On {
		return // 状态未变，不重发
	}
	if seen && in.Priority != pkg.PrioritySafety {
		if since := e.tickN - e.lastChange[in.Role]; since < e.dwellFor(in.Role) {
			return // 驻留期内不许翻转，防短周期
		}
	}
	if _, err := e.registry.Lookup(in.Role); err != nil {
		if !e.missing[in.Role] {
			e.missing[in.Role] = true
			e.alert(pkg.NewAlert(pkg.SeverityWarning, "control",
				fmt.Sprintf("角色 %s 未登记，跳过该执行器", in.Role)))
		}
		return // 降级运行，不让单个缺失设备拖垮整个循环
	}
	delete(e.missing, in.Role)
	if d := e.interlock.Authorize(in); !d.Allowed {
		e.logger.Debug("意图被闸门拒绝", zap.String("role", string(in.Role)), zap.String("reason", d.Reason))
		return
	}
	e.lastState[in.Role] = in.On
	e.lastChange[in.Role] = e.tickN
	e.emit(in)
}

func (e *Engine) dwellFor(role pkg.Role) int {
	if n, ok := e.dwell[role]; ok {
		return n
	}
	return 1
}

// forceAllOff 向全部可写角色下发关断，停机入口要求一个tick内完成。
// 停机保持期也每tick补发，设备可能漏收或被外部改动状态
func (e *Engine) forceAllOff(reason string) {
	for _, role := range e.registry.Writable() {
		e.lastState[role] = false
		e.lastChange[role] = e.tickN
		e.emit(pkg.OffIntent(role, reason))
	}
}
