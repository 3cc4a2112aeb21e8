// Package photoperiod 驱动灯光的日程状态机：Off → RampUp → FullOn → RampDown → Off。
// 独立于主控制循环的低频 goroutine；灯光状态反馈给主循环（灯的热负荷影响温控）。
package photoperiod

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/safety"
)

// Phase 主灯状态机阶段
type Phase string

const (
	PhaseOff      Phase = "off"
	PhaseRampUp   Phase = "rampup"
	PhaseFullOn   Phase = "fullon"
	PhaseRampDown Phase = "rampdown"
)

// dliSample 滚动窗口里的单个光积分样本
type dliSample struct {
	ts  time.Time
	mol float64 // mol/m²
}

// Scheduler 光周期调度器
type Scheduler struct {
	logger    *zap.Logger
	alert     func(pkg.AlertEvent)
	store     *pkg.SnapshotStore
	profiles  *profile.Manager
	interlock *safety.Interlock
	emit      func(pkg.ActuatorIntent)

	interval   time.Duration
	sunriseMin int
	sunsetMin  int
	cfgOn      string // 配置层覆盖，空则用档案的光周期
	cfgOff     string
	luxFactor  float64 // lux换算PPFD的除数
	farRed     pkg.FarRedConfig
	uv         pkg.UVConfig
	tolerance  float64

	now func() time.Time // 测试注入

	mu        sync.Mutex
	phase     Phase
	level     float64
	frOn      bool
	uvOn      bool
	uvRan     time.Duration // 当日UV累计照射时长
	uvSeen    time.Time
	uvLastDay int
	samples   []dliSample
	lastTick  time.Time
	evaluated int // 最近一次做过DLI结算的 yearday，避免重复告警
}

func New(ctx context.Context, store *pkg.SnapshotStore, profiles *profile.Manager,
	interlock *safety.Interlock, emit func(pkg.ActuatorIntent), alert func(pkg.AlertEvent)) *Scheduler {

	config := pkg.ConfigFromContext(ctx)
	return &Scheduler{
		logger:     pkg.LoggerFromContext(ctx),
		alert:      alert,
		store:      store,
		profiles:   profiles,
		interlock:  interlock,
		emit:       emit,
		interval:   config.Photoperiod.Interval,
		sunriseMin: config.Photoperiod.SunriseMin,
		sunsetMin:  config.Photoperiod.SunsetMin,
		cfgOn:      config.Photoperiod.LightOn,
		cfgOff:     config.Photoperiod.LightOff,
		luxFactor:  config.Photoperiod.LuxToPPFD,
		farRed:     config.Photoperiod.FarRed,
		uv:         config.Photoperiod.UV,
		tolerance:  config.Photoperiod.DLITolerance,
		now:        time.Now,
		phase:      PhaseOff,
		evaluated:  -1,
	}
}

// LightsOn 主灯是否处于点亮阶段（含斜坡），主循环的夜间策略依赖它
func (s *Scheduler) LightsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase != PhaseOff
}

// Phase 当前阶段与亮度，供API展示
func (s *Scheduler) Status() (Phase, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.level
}

// DLI 返回滚动24小时窗口内的光积分 (mol/m²)
func (s *Scheduler) DLI() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dliLocked(s.now())
}

func (s *Scheduler) dliLocked(now time.Time) float64 {
	var sum float64
	for _, smp := range s.samples {
		if now.Sub(smp.ts) <= 24*time.Hour {
			sum += smp.mol
		}
	}
	return sum
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("光周期调度启动", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("光周期调度退出")
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// parseClock "HH:MM" -> 当日分钟数
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

// minutesInto 返回 now 落在光照期内的分钟偏移；不在光照期返回 -1。
// off <= on 表示光照期跨午夜（如 06:00 开、00:00 关的 18/6 档）
func minutesInto(nowMin, onMin, offMin int) (into, total int) {
	total = offMin - onMin
	if total <= 0 {
		total += 24 * 60
	}
	into = nowMin - onMin
	if into < 0 {
		into += 24 * 60
	}
	if into >= total {
		return -1, total
	}
	return into, total
}

// Tick 推进状态机一步。导出是为了测试能单步驱动
func (s *Scheduler) Tick() {
	now := s.now()
	prof := s.profiles.Active()

	lightOn, lightOff := prof.LightOn, prof.LightOff
	if s.cfgOn != "" {
		lightOn = s.cfgOn
	}
	if s.cfgOff != "" {
		lightOff = s.cfgOff
	}
	onMin, err := parseClock(lightOn)
	if err != nil {
		s.logger.Error("光周期配置非法", zap.Error(err))
		return
	}
	offMin, err := parseClock(lightOff)
	if err != nil {
		s.logger.Error("光周期配置非法", zap.Error(err))
		return
	}
	nowMin := now.Hour()*60 + now.Minute()
	into, total := minutesInto(nowMin, onMin, offMin)

	full := prof.Intensity.Max
	if full <= 0 {
		into = -1 // 档案不给光（干燥期），整日按灯灭处理，远红/UV 一并不开
	}
	phase, level := s.resolvePhase(into, total, full)

	s.mu.Lock()
	prevPhase, prevLevel := s.phase, s.level
	s.phase, s.level = phase, level
	s.accumulateDLI(now, prof)
	s.mu.Unlock()

	if phase != prevPhase || level != prevLevel {
		if phase != prevPhase {
			s.logger.Info("光照阶段切换",
				zap.String("from", string(prevPhase)), zap.String("to", string(phase)),
				zap.Float64("level", level))
		}
		s.send(pkg.ActuatorIntent{
			Role: pkg.RoleLightMain, On: level > 0, Level: level,
			Reason: "photoperiod " + string(phase), Quantity: pkg.QuantityPPFD,
			Priority: pkg.PriorityComfort, Ts: now,
		})
	}

	s.driveFarRed(now, into, total)
	s.driveUV(now, into, total)

	// 光照期结束当刻结算一次DLI
	if prevPhase != PhaseOff && phase == PhaseOff {
		s.settleDLI(now, prof)
	}
}

// resolvePhase 按光照期内偏移决定阶段与亮度，斜坡线性插值
func (s *Scheduler) resolvePhase(into, total int, full float64) (Phase, float64) {
	if into < 0 {
		return PhaseOff, 0
	}
	sunrise, sunset := s.sunriseMin, s.sunsetMin
	if sunrise+sunset > total {
		sunrise, sunset = 0, 0 // 斜坡比光照期还长，退化为硬开关
	}
	switch {
	case sunrise > 0 && into < sunrise:
		return PhaseRampUp, full * float64(into+1) / float64(sunrise)
	case sunset > 0 && into >= total-sunset:
		remain := total - into
		return PhaseRampDown, full * float64(remain) / float64(sunset)
	default:
		return PhaseFullOn, full
	}
}

// driveFarRed 远红光只在光照期起止两个窗口点亮
func (s *Scheduler) driveFarRed(now time.Time, into, total int) {
	if !s.farRed.Enable {
		return
	}
	want := into >= 0 &&
		(into < s.farRed.StartMinutes || into >= total-s.farRed.EndMinutes)
	s.mu.Lock()
	changed := want != s.frOn
	s.frOn = want
	s.mu.Unlock()
	if changed {
		s.send(pkg.ActuatorIntent{
			Role: pkg.RoleLightFarRed, On: want, Level: float64(s.farRed.Intensity),
			Reason: "far-red window", Quantity: pkg.QuantityPPFD,
			Priority: pkg.PriorityComfort, Ts: now,
		})
	}
}

// driveUV UV窗口：开灯后延迟进入、关灯前提前退出，当日累计时长封顶
func (s *Scheduler) driveUV(now time.Time, into, total int) {
	if !s.uv.Enable {
		return
	}
	s.mu.Lock()
	if d := now.YearDay(); d != s.uvLastDay {
		s.uvLastDay = d
		s.uvRan = 0
	}
	if s.uvOn && !s.uvSeen.IsZero() {
		s.uvRan += now.Sub(s.uvSeen)
	}
	s.uvSeen = now
	want := into >= s.uv.DelayAfterStart && into < total-s.uv.StopBeforeEnd
	if limit := time.Duration(s.uv.MaxDurationHours) * time.Hour; limit > 0 && s.uvRan >= limit {
		want = false
	}
	changed := want != s.uvOn
	s.uvOn = want
	s.mu.Unlock()
	if changed {
		s.send(pkg.ActuatorIntent{
			Role: pkg.RoleLightUV, On: want, Level: float64(s.uv.Intensity),
			Reason: "uv window", Quantity: pkg.QuantityPPFD,
			Priority: pkg.PriorityComfort, Ts: now,
		})
	}
}

// accumulateDLI 采样光积分。回退链：实测PPFD > 照度折算 > 按指令亮度折算目标PPFD。
// 调用方必须已持有锁
func (s *Scheduler) accumulateDLI(now time.Time, prof profile.Profile) {
	defer func() { s.lastTick = now }()
	if s.lastTick.IsZero() {
		return
	}
	dt := now.Sub(s.lastTick).Seconds()
	if dt <= 0 || dt > time.Hour.Seconds() {
		return // 时钟跳变或停摆后的首个样本不可信
	}
	var ppfd float64
	snap := s.store.Load()
	if v := snap.Get(pkg.QuantityPPFD); v.Known {
		ppfd = v.V
	} else if v := snap.Get(pkg.QuantityLux); v.Known && s.luxFactor > 0 {
		ppfd = v.V / s.luxFactor
	} else if s.level > 0 && prof.Intensity.Max > 0 {
		ppfd = prof.PPFDTarget * s.level / prof.Intensity.Max
	}
	if ppfd <= 0 {
		return
	}
	s.samples = append(s.samples, dliSample{ts: now, mol: ppfd * dt / 1e6})
	// 剪掉24小时以外的样本
	cut := 0
	for cut < len(s.samples) && now.Sub(s.samples[cut].ts) > 24*time.Hour {
		cut++
	}
	s.samples = s.samples[cut:]
}

// settleDLI 光照期收尾时对照目标结算，偏差超容忍度只告警不改日程。
// 日程是操作员的决策域，调度器无权自作主张
func (s *Scheduler) settleDLI(now time.Time, prof profile.Profile) {
	if prof.DLITarget <= 0 {
		return
	}
	s.mu.Lock()
	if s.evaluated == now.YearDay() {
		s.mu.Unlock()
		return
	}
	s.evaluated = now.YearDay()
	got := s.dliLocked(now)
	s.mu.Unlock()

	dev := (got - prof.DLITarget) / prof.DLITarget
	if dev > s.tolerance || dev < -s.tolerance {
		s.alert(pkg.NewAlert(pkg.SeverityInfo, "photoperiod",
			fmt.Sprintf("DLI 偏差: 实际 %.1f mol/m²，目标 %.1f，偏差 %.0f%%",
				got, prof.DLITarget, dev*100)))
	}
}

// send 灯光指令同样要过安全闸门
func (s *Scheduler) send(in pkg.ActuatorIntent) {
	if d := s.interlock.Authorize(in); !d.Allowed {
		s.logger.Debug("灯光指令被闸门拒绝", zap.String("role", string(in.Role)), zap.String("reason", d.Reason))
		return
	}
	s.emit(in)
}
