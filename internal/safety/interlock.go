// Package safety 实现硬限位闸门与紧急停机。
// 所有执行器指令必须经 Authorize 过闸；硬限位任何模式下都不可绕过。
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// 默认硬限位来自传感器物理包络，config 的 safety::hard 可逐项覆盖。
// 湿度和水位天然落在 0..100，列在这里是为了让覆盖项有默认值可改
var defaultHardLimits = map[pkg.Quantity]pkg.Range{
	pkg.QuantityTemperature: {Min: -10, Max: 50},
	pkg.QuantityHumidity:    {Min: 0, Max: 100},
	pkg.QuantityCO2:         {Min: 0, Max: 2000},
	pkg.QuantityVPD:         {Min: 0, Max: 3.0},
	pkg.QuantityEC:          {Min: 0, Max: 3000},
	pkg.QuantityPH:          {Min: 4.0, Max: 8.0},
	pkg.QuantityWaterLevel:  {Min: 0, Max: 100},
}

// Decision Authorize 的结果
type Decision struct {
	Allowed bool
	Reason  string
}

// Interlock 硬限位闸门。持有房间运行模式，是紧急停机状态的唯一事实来源
type Interlock struct {
	logger   *zap.Logger
	alert    func(pkg.AlertEvent)
	limits   map[pkg.Quantity]pkg.Range
	debounce time.Duration

	mu          sync.RWMutex
	mode        pkg.Mode
	priorMode   pkg.Mode // estop 解除后恢复到的模式
	breachSince map[pkg.Quantity]time.Time
	estopReason string
	estopAt     time.Time
}

func New(ctx context.Context, alert func(pkg.AlertEvent)) *Interlock {
	config := pkg.ConfigFromContext(ctx)
	limits := make(map[pkg.Quantity]pkg.Range, len(defaultHardLimits))
	for q, r := range defaultHardLimits {
		limits[q] = r
	}
	for name, r := range config.Safety.Hard {
		limits[pkg.Quantity(name)] = pkg.Range{Min: r.Min, Max: r.Max}
	}
	debounce := config.Safety.Debounce
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	return &Interlock{
		logger:      pkg.LoggerFromContext(ctx),
		alert:       alert,
		limits:      limits,
		debounce:    debounce,
		mode:        pkg.ModeAuto,
		priorMode:   pkg.ModeAuto,
		breachSince: make(map[pkg.Quantity]time.Time),
	}
}

// Mode 返回当前房间运行模式
func (s *Interlock) Mode() pkg.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode 切换 auto/manual。处于紧急停机时拒绝，必须先 Acknowledge
func (s *Interlock) SetMode(m pkg.Mode) error {
	if m != pkg.ModeAuto && m != pkg.ModeManual {
		return fmt.Errorf("非法模式 %q", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == pkg.ModeEmergencyStop {
		return fmt.Errorf("%w: 紧急停机中，需先确认恢复", pkg.ErrSafetyLimitBreach)
	}
	s.mode = m
	s.priorMode = m
	return nil
}

// Observe 每个控制 tick 调用一次，评估快照里的每个已知量。
// 硬限位越界持续超过去抖窗口时进入紧急停机。
// 返回 true 表示本次调用触发了停机，调用方必须立即对全部执行器下发关断
func (s *Interlock) Observe(snap *pkg.RoomSnapshot) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for q, limit := range s.limits {
		v := snap.Get(q)
		if !v.Known {
			// Unknown 不参与去抖：既不开始计时也不清零
			continue
		}
		if v.V < limit.Min || v.V > limit.Max {
			since, tracked := s.breachSince[q]
			if !tracked {
				s.breachSince[q] = now
				continue
			}
			if now.Sub(since) >= s.debounce && s.mode != pkg.ModeEmergencyStop {
				s.enterEstopLocked(fmt.Sprintf("%s=%.2f 超出硬限位 [%.2f, %.2f]",
					q, v.V, limit.Min, limit.Max))
				return true
			}
		} else {
			delete(s.breachSince, q)
		}
	}
	return false
}

// Trigger 操作员手动触发紧急停机，无去抖
func (s *Interlock) Trigger(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == pkg.ModeEmergencyStop {
		return false
	}
	s.enterEstopLocked("操作员触发: " + reason)
	return true
}

// enterEstopLocked 进入紧急停机。调用方必须已持有写锁
func (s *Interlock) enterEstopLocked(reason string) {
	s.priorMode = s.mode
	if s.priorMode == pkg.ModeEmergencyStop {
		s.priorMode = pkg.ModeAuto
	}
	s.mode = pkg.ModeEmergencyStop
	s.estopReason = reason
	s.estopAt = time.Now()
	s.logger.Error("进入紧急停机", zap.String("reason", reason))
	s.alert(pkg.NewAlert(pkg.SeverityCritical, "safety", "进入紧急停机: "+reason))
}

// Acknowledge 人工确认恢复。传感器数值的任何序列都不能解除停机，只有这里能
func (s *Interlock) Acknowledge(operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != pkg.ModeEmergencyStop {
		return fmt.Errorf("当前不在紧急停机状态")
	}
	s.mode = s.priorMode
	s.breachSince = make(map[pkg.Quantity]time.Time)
	s.estopReason = ""
	s.logger.Info("紧急停机已确认解除", zap.String("operator", operator))
	s.alert(pkg.NewAlert(pkg.SeverityInfo, "safety", "紧急停机已由 "+operator+" 确认解除"))
	return nil
}

// Status 返回停机原因与进入时间，供 API 展示
func (s *Interlock) Status() (mode pkg.Mode, reason string, at time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.estopReason, s.estopAt
}

// Limit 返回某量的硬限位，控制循环据此判断意图是否安全驱动
func (s *Interlock) Limit(q pkg.Quantity) (pkg.Range, bool) {
	r, ok := s.limits[q]
	return r, ok
}

// Authorize 指令过闸。停机模式下只放行关断指令
func (s *Interlock) Authorize(intent pkg.ActuatorIntent) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode == pkg.ModeEmergencyStop {
		if !intent.On {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Reason: "紧急停机中，仅允许关断指令"}
	}
	return Decision{Allowed: true}
}
