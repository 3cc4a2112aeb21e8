// Package dosing 水培配剂的独立控制循环。
// 配剂只发限时脉冲，绝不发连续运行指令：传感器失效时连续加药是不可逆事故。
package dosing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/registry"
	"growgate/internal/safety"
)

// shot 滚动窗口内的一次脉冲记录
type shot struct {
	ts time.Time
	ml float64
}

// Controller EC/pH 配剂控制器，比主循环低频，水体响应慢
type Controller struct {
	logger    *zap.Logger
	alert     func(pkg.AlertEvent)
	store     *pkg.SnapshotStore
	profiles  *profile.Manager
	interlock *safety.Interlock
	registry  *registry.Registry
	emit      func(pkg.ActuatorIntent)

	interval   time.Duration
	shotMs     int
	shotML     float64
	minShotGap time.Duration
	window     time.Duration
	maxML      float64

	now func() time.Time

	mu       sync.Mutex
	shots    []shot
	lastShot map[pkg.Role]time.Time
	capped   bool // 已因触顶告警过，恢复前不重复告警
}

func New(ctx context.Context, store *pkg.SnapshotStore, profiles *profile.Manager,
	interlock *safety.Interlock, reg *registry.Registry,
	emit func(pkg.ActuatorIntent), alert func(pkg.AlertEvent)) *Controller {

	config := pkg.ConfigFromContext(ctx)
	return &Controller{
		logger:     pkg.LoggerFromContext(ctx),
		alert:      alert,
		store:      store,
		profiles:   profiles,
		interlock:  interlock,
		registry:   reg,
		emit:       emit,
		interval:   config.Dosing.Interval,
		shotMs:     config.Dosing.ShotMs,
		shotML:     config.Dosing.ShotML,
		minShotGap: config.Dosing.MinShotGap,
		window:     config.Dosing.Window,
		maxML:      config.Dosing.MaxMLWindow,
		now:        time.Now,
		lastShot:   make(map[pkg.Role]time.Time),
	}
}

// WindowUsage 滚动窗口内已投剂量 (mL)，供API展示
func (c *Controller) WindowUsage() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedLocked(c.now())
}

func (c *Controller) usedLocked(now time.Time) float64 {
	var sum float64
	for _, s := range c.shots {
		if now.Sub(s.ts) <= c.window {
			sum += s.ml
		}
	}
	return sum
}

// Start 启动配剂循环
func (c *Controller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		c.logger.Info("配剂循环启动", zap.Duration("interval", c.interval))
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("配剂循环退出")
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// Tick 执行一轮配剂决策。pH 矫正优先于 EC：营养液浓度计算依赖 pH 在量程内。
// 每tick至多发一个脉冲，让水体有时间混匀再评估
func (c *Controller) Tick() {
	if c.interlock.Mode() != pkg.ModeAuto {
		return
	}
	snap := c.store.Load()
	prof := c.profiles.Active()

	if role, reason, ok := c.phCorrection(snap, prof); ok {
		c.pulse(role, reason)
		return
	}
	if role, reason, ok := c.ecCorrection(snap, prof); ok {
		c.pulse(role, reason)
	}
}

func (c *Controller) phCorrection(snap *pkg.RoomSnapshot, prof profile.Profile) (pkg.Role, string, bool) {
	v := snap.Get(pkg.QuantityPH)
	if !v.Known {
		return "", "", false // Unknown 不投药，盲投比不投危险
	}
	switch {
	case v.V > prof.PH.Max:
		return pkg.RolePumpPHDown, fmt.Sprintf("pH=%.2f 高于 %.2f", v.V, prof.PH.Max), true
	case v.V < prof.PH.Min:
		return pkg.RolePumpPHUp, fmt.Sprintf("pH=%.2f 低于 %.2f", v.V, prof.PH.Min), true
	}
	return "", "", false
}

func (c *Controller) ecCorrection(snap *pkg.RoomSnapshot, prof profile.Profile) (pkg.Role, string, bool) {
	v := snap.Get(pkg.QuantityEC)
	if !v.Known {
		return "", "", false
	}
	if v.V < prof.EC.Min {
		// A/B 营养液轮替投放，避免单侧配方失衡
		role := pkg.RolePumpNutrientA
		c.mu.Lock()
		if c.lastShot[pkg.RolePumpNutrientA].After(c.lastShot[pkg.RolePumpNutrientB]) {
			role = pkg.RolePumpNutrientB
		}
		c.mu.Unlock()
		return role, fmt.Sprintf("EC=%.0f 低于 %.0f", v.V, prof.EC.Min), true
	}
	// EC 偏高靠补水或换液，不是泵能解决的，只告警
	if v.V > prof.EC.Max {
		c.logger.Warn("EC 高于目标区间，需补水稀释", zap.Float64("ec", v.V))
	}
	return "", "", false
}

// pulse 发限时脉冲。窗口剂量封顶独立于一切误差量，触顶即拒绝
func (c *Controller) pulse(role pkg.Role, reason string) {
	now := c.now()
	c.mu.Lock()
	if last, ok := c.lastShot[role]; ok && now.Sub(last) < c.minShotGap {
		c.mu.Unlock()
		return
	}
	used := c.usedLocked(now)
	if used+c.shotML > c.maxML {
		wasCapped := c.capped
		c.capped = true
		c.mu.Unlock()
		if !wasCapped {
			c.alert(pkg.NewAlert(pkg.SeverityWarning, "dosing",
				fmt.Sprintf("滚动窗口剂量触顶 (%.1f/%.1f mL)，暂停配剂: %v",
					used, c.maxML, pkg.ErrDosingCeilingReached)))
		}
		return
	}
	c.capped = false
	c.mu.Unlock()

	// 没有真正下发的脉冲不计入窗口剂量
	if _, err := c.registry.Lookup(role); err != nil {
		c.alert(pkg.NewAlert(pkg.SeverityWarning, "dosing",
			fmt.Sprintf("泵角色 %s 未登记，脉冲被丢弃", role)))
		return
	}
	in := pkg.ActuatorIntent{
		Role: role, On: true, Pulse: time.Duration(c.shotMs) * time.Millisecond,
		Reason: reason, Priority: pkg.PriorityComfort, Ts: now,
	}
	if d := c.interlock.Authorize(in); !d.Allowed {
		c.logger.Debug("配剂脉冲被闸门拒绝", zap.String("role", string(role)), zap.String("reason", d.Reason))
		return
	}

	c.mu.Lock()
	c.shots = append(c.shots, shot{ts: now, ml: c.shotML})
	cut := 0
	for cut < len(c.shots) && now.Sub(c.shots[cut].ts) > c.window {
		cut++
	}
	c.shots = c.shots[cut:]
	c.lastShot[role] = now
	c.mu.Unlock()

	c.logger.Info("配剂脉冲",
		zap.String("role", string(role)), zap.String("reason", reason),
		zap.Float64("ml", c.shotML), zap.Int("ms", c.shotMs))
	c.emit(in)
}
