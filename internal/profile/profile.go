package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// Profile 解析后的目标包线，读取时由阶段基线和覆盖层合并得到。
// 调用方拿到的是值拷贝，基线永远不被就地修改。
type Profile struct {
	PlantType   string    `json:"plantType"`
	Plan        string    `json:"plan"`
	Stage       Stage     `json:"stage"`
	VPD         pkg.Range `json:"vpd"`
	Temperature pkg.Range `json:"temperature"`
	Humidity    pkg.Range `json:"humidity"`
	CO2         pkg.Range `json:"co2"`
	EC          pkg.Range `json:"ec"`
	PH          pkg.Range `json:"ph"`
	LightOn     string    `json:"lightOn"`  // "HH:MM"
	LightOff    string    `json:"lightOff"` // "HH:MM"
	Intensity   pkg.Range `json:"intensity"`
	PPFDTarget  float64   `json:"ppfdTarget"`
	DLITarget   float64   `json:"dliTarget"`
}

// Override 字段级覆盖层，nil 字段回落到阶段基线
type Override struct {
	VPD         *pkg.Range `json:"vpd,omitempty" mapstructure:"vpd"`
	Temperature *pkg.Range `json:"temperature,omitempty" mapstructure:"temperature"`
	Humidity    *pkg.Range `json:"humidity,omitempty" mapstructure:"humidity"`
	CO2         *pkg.Range `json:"co2,omitempty" mapstructure:"co2"`
	EC          *pkg.Range `json:"ec,omitempty" mapstructure:"ec"`
	PH          *pkg.Range `json:"ph,omitempty" mapstructure:"ph"`
	LightOn     *string    `json:"lightOn,omitempty" mapstructure:"lightOn"`
	LightOff    *string    `json:"lightOff,omitempty" mapstructure:"lightOff"`
	Intensity   *pkg.Range `json:"intensity,omitempty" mapstructure:"intensity"`
	PPFDTarget  *float64   `json:"ppfdTarget,omitempty" mapstructure:"ppfdTarget"`
	DLITarget   *float64   `json:"dliTarget,omitempty" mapstructure:"dliTarget"`
}

// Transition 阶段变更历史项，只增不改
type Transition struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	Ts   time.Time `json:"ts"`
}

// Recorder 审计落库接口，由 history 包的 mongo 实现提供；可为 nil
type Recorder interface {
	Record(event string, fields map[string]any)
}

// Manager 档案管理器。阶段推进不可逆（除显式 Reset），覆盖按字段合并
type Manager struct {
	logger   *zap.Logger
	alert    func(pkg.AlertEvent)
	recorder Recorder

	mu        sync.RWMutex
	plantType string
	plan      string
	stage     Stage
	override  Override
	history   []Transition
	dryMode   DryMode
	dryStart  time.Time

	now func() time.Time // 测试注入
}

// NewManager 按配置构造管理器，植物类型或阶段非法时返回 ErrInvalidProfile
func NewManager(ctx context.Context, alert func(pkg.AlertEvent), recorder Recorder) (*Manager, error) {
	config := pkg.ConfigFromContext(ctx)
	plantType := config.Profile.PlantType
	if plantType == "" {
		plantType = "generic"
	}
	if _, ok := knownPlantTypes[plantType]; !ok {
		return nil, fmt.Errorf("%w: 未识别的植物类型 %q", pkg.ErrInvalidProfile, plantType)
	}
	stage := Stage(config.Profile.Stage)
	if stage == "" {
		stage = StageGermination
	}
	if stageIndex(stage) < 0 {
		return nil, fmt.Errorf("%w: 未识别的生长阶段 %q", pkg.ErrInvalidProfile, stage)
	}
	plan := config.Profile.Plan
	switch plan {
	case "":
		plan = PlanPhotoperiodic
	case PlanPhotoperiodic, PlanAuto:
	default:
		return nil, fmt.Errorf("%w: 未识别的光周期计划 %q", pkg.ErrInvalidProfile, plan)
	}
	m := &Manager{
		logger:    pkg.LoggerFromContext(ctx),
		alert:     alert,
		recorder:  recorder,
		plantType: plantType,
		plan:      plan,
		stage:     stage,
		now:       time.Now,
	}
	m.history = append(m.history, Transition{From: "", To: stage, Ts: time.Now()})
	return m, nil
}

// Active 返回当前生效档案：阶段基线 + 覆盖层，读取时合并。
// 干燥期返回时段表包线，覆盖层不参与
func (m *Manager) Active() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dryMode != "" {
		return m.dryProfileLocked()
	}

	env := stageEnvelopes[m.stage]
	lightOn, lightOff := defaultPhotoperiod(m.plan, m.stage)
	p := Profile{
		PlantType:   m.plantType,
		Plan:        m.plan,
		Stage:       m.stage,
		VPD:         env.VPD,
		Temperature: env.Temperature,
		Humidity:    env.Humidity,
		CO2:         defaultCO2,
		EC:          defaultEC,
		PH:          defaultPH,
		LightOn:     lightOn,
		LightOff:    lightOff,
		Intensity:   env.Intensity,
		PPFDTarget:  env.PPFDTarget,
		DLITarget:   env.DLITarget,
	}
	o := m.override
	if o.VPD != nil {
		p.VPD = *o.VPD
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.Humidity != nil {
		p.Humidity = *o.Humidity
	}
	if o.CO2 != nil {
		p.CO2 = *o.CO2
	}
	if o.EC != nil {
		p.EC = *o.EC
	}
	if o.PH != nil {
		p.PH = *o.PH
	}
	if o.LightOn != nil {
		p.LightOn = *o.LightOn
	}
	if o.LightOff != nil {
		p.LightOff = *o.LightOff
	}
	if o.Intensity != nil {
		p.Intensity = *o.Intensity
	}
	if o.PPFDTarget != nil {
		p.PPFDTarget = *o.PPFDTarget
	}
	if o.DLITarget != nil {
		p.DLITarget = *o.DLITarget
	}
	return p
}

// AdvanceStage 推进生长阶段，只许向前；回退必须走 Reset
func (m *Manager) AdvanceStage(newStage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ni := stageIndex(newStage)
	if ni < 0 {
		return fmt.Errorf("%w: 未识别的生长阶段 %q", pkg.ErrInvalidProfile, newStage)
	}
	if ni <= stageIndex(m.stage) {
		return fmt.Errorf("%w: 阶段不可回退 %s -> %s，如需回退请执行 reset", pkg.ErrInvalidProfile, m.stage, newStage)
	}
	m.appendTransition(newStage)
	return nil
}

// Reset 显式重置到任意阶段，用于新一轮种植
func (m *Manager) Reset(stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stageIndex(stage) < 0 {
		return fmt.Errorf("%w: 未识别的生长阶段 %q", pkg.ErrInvalidProfile, stage)
	}
	m.override = Override{}
	m.appendTransition(stage)
	return nil
}

// appendTransition 追加历史并落审计。调用方必须已持有写锁
func (m *Manager) appendTransition(to Stage) {
	from := m.stage
	m.stage = to
	m.history = append(m.history, Transition{From: from, To: to, Ts: time.Now()})
	m.logger.Info("生长阶段变更", zap.String("from", string(from)), zap.String("to", string(to)))
	m.alert(pkg.NewAlert(pkg.SeverityInfo, "profile",
		fmt.Sprintf("生长阶段变更: %s -> %s", from, to)))
	if m.recorder != nil {
		m.recorder.Record("stage_change", map[string]any{"from": string(from), "to": string(to)})
	}
}

// ApplyOverride 应用覆盖层，区间倒置时整体拒绝，保持原档案生效
func (m *Manager) ApplyOverride(o Override) error {
	for name, r := range map[string]*pkg.Range{
		"vpd": o.VPD, "temperature": o.Temperature, "humidity": o.Humidity,
		"co2": o.CO2, "ec": o.EC, "ph": o.PH, "intensity": o.Intensity,
	} {
		if r != nil && r.Min > r.Max {
			return fmt.Errorf("%w: %s 区间倒置 min=%.2f > max=%.2f", pkg.ErrInvalidProfile, name, r.Min, r.Max)
		}
	}
	m.mu.Lock()
	m.override = o
	m.mu.Unlock()
	m.logger.Info("档案覆盖已更新")
	if m.recorder != nil {
		m.recorder.Record("override_applied", map[string]any{})
	}
	return nil
}

// dryProfileLocked 当前干燥时段的包线。灯全灭，CO2 与水培配剂的区间放到
// 全开，配套的控制环因此全程静默。调用方必须已持有读锁
func (m *Manager) dryProfileLocked() Profile {
	ph, _ := dryPhaseAt(m.dryMode, m.now().Sub(m.dryStart))
	return Profile{
		PlantType:   m.plantType,
		Plan:        m.plan,
		Stage:       StageDrying,
		VPD:         ph.VPD,
		Temperature: ph.Temperature,
		Humidity:    ph.Humidity,
		CO2:         pkg.Range{Min: 0, Max: 20000},
		EC:          pkg.Range{Min: 0, Max: 20000},
		PH:          pkg.Range{Min: 0, Max: 14},
		LightOn:     "00:00",
		LightOff:    "00:00",
	}
}

// DryStatus 干燥运行状态，供API展示
type DryStatus struct {
	Mode      DryMode   `json:"mode"`
	Phase     string    `json:"phase"`
	Started   time.Time `json:"started"`
	Remaining string    `json:"remaining"`
	Finished  bool      `json:"finished"`
}

// StartDrying 进入干燥模式。运行中切换模式会从头计时
func (m *Manager) StartDrying(mode DryMode) error {
	if _, ok := dryPlans[mode]; !ok {
		return fmt.Errorf("%w: 未识别的干燥模式 %q", pkg.ErrInvalidProfile, mode)
	}
	m.mu.Lock()
	m.dryMode = mode
	m.dryStart = m.now()
	m.mu.Unlock()

	m.logger.Info("干燥模式启动", zap.String("mode", string(mode)))
	m.alert(pkg.NewAlert(pkg.SeverityInfo, "profile", "干燥模式启动: "+string(mode)))
	if m.recorder != nil {
		m.recorder.Record("dry_start", map[string]any{"mode": string(mode)})
	}
	return nil
}

// StopDrying 退出干燥模式，恢复生长阶段包线
func (m *Manager) StopDrying() error {
	m.mu.Lock()
	if m.dryMode == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: 当前不在干燥模式", pkg.ErrInvalidProfile)
	}
	mode := m.dryMode
	m.dryMode = ""
	m.dryStart = time.Time{}
	m.mu.Unlock()

	m.logger.Info("干燥模式结束", zap.String("mode", string(mode)))
	m.alert(pkg.NewAlert(pkg.SeverityInfo, "profile", "干燥模式结束: "+string(mode)))
	if m.recorder != nil {
		m.recorder.Record("dry_stop", map[string]any{"mode": string(mode)})
	}
	return nil
}

// Drying 返回干燥运行状态，第二个返回值为 false 表示未在干燥
func (m *Manager) Drying() (DryStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dryMode == "" {
		return DryStatus{}, false
	}
	elapsed := m.now().Sub(m.dryStart)
	ph, finished := dryPhaseAt(m.dryMode, elapsed)
	remaining := dryTotal(m.dryMode) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return DryStatus{
		Mode:      m.dryMode,
		Phase:     ph.Name,
		Started:   m.dryStart,
		Remaining: remaining.Round(time.Minute).String(),
		Finished:  finished,
	}, true
}

// History 返回阶段历史的拷贝
func (m *Manager) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
