package photoperiod

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/safety"
)

type harness struct {
	sched   *Scheduler
	store   *pkg.SnapshotStore
	intents []pkg.ActuatorIntent
	alerts  []pkg.AlertEvent
	clock   time.Time
}

func newHarness(t *testing.T, mutate func(*pkg.Config)) *harness {
	t.Helper()
	h := &harness{}
	cfg := &pkg.Config{}
	cfg.Profile.PlantType = "generic"
	cfg.Profile.Stage = string(profile.StageMidVeg)
	cfg.Photoperiod.LightOn = "06:00"
	cfg.Photoperiod.LightOff = "18:00"
	cfg.Photoperiod.SunriseMin = 30
	cfg.Photoperiod.SunsetMin = 30
	cfg.Photoperiod.DLITolerance = 0.15
	if mutate != nil {
		mutate(cfg)
	}
	ctx := pkg.WithConfig(context.Background(), cfg)

	alert := func(a pkg.AlertEvent) { h.alerts = append(h.alerts, a) }
	profiles, err := profile.NewManager(ctx, alert, nil)
	if err != nil {
		t.Fatalf("构造档案管理器失败: %v", err)
	}
	h.store = pkg.NewSnapshotStore("tent-1")
	h.sched = New(ctx, h.store, profiles, safety.New(ctx, alert),
		func(in pkg.ActuatorIntent) { h.intents = append(h.intents, in) }, alert)
	h.sched.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) at(hour, min int) {
	h.clock = time.Date(2026, 8, 28, hour, min, 0, 0, time.Local)
	h.sched.Tick()
}

func (h *harness) lastFor(role pkg.Role) (pkg.ActuatorIntent, bool) {
	for i := len(h.intents) - 1; i >= 0; i-- {
		if h.intents[i].Role == role {
			return h.intents[i], true
		}
	}
	return pkg.ActuatorIntent{}, false
}

func TestSchedulerPhases(t *testing.T) {
	Convey("主灯状态机", t, func() {
		h := newHarness(t, nil)
		full := h.sched.profiles.Active().Intensity.Max

		Convey("开灯前为 Off，不发指令", func() {
			h.at(5, 0)
			phase, level := h.sched.Status()
			So(phase, ShouldEqual, PhaseOff)
			So(level, ShouldEqual, 0)
			So(len(h.intents), ShouldEqual, 0)
		})

		Convey("日出斜坡期亮度线性爬升", func() {
			h.at(6, 10)
			phase, level := h.sched.Status()
			So(phase, ShouldEqual, PhaseRampUp)
			So(level, ShouldBeGreaterThan, 0)
			So(level, ShouldBeLessThan, full)
			in, ok := h.lastFor(pkg.RoleLightMain)
			So(ok, ShouldBeTrue)
			So(in.On, ShouldBeTrue)

			h.at(6, 20)
			_, l2 := h.sched.Status()
			So(l2, ShouldBeGreaterThan, level)
		})

		Convey("斜坡后全亮", func() {
			h.at(12, 0)
			phase, level := h.sched.Status()
			So(phase, ShouldEqual, PhaseFullOn)
			So(level, ShouldEqual, full)
		})

		Convey("日落斜坡期亮度回落，关灯后归零", func() {
			h.at(12, 0)
			h.at(17, 45)
			phase, level := h.sched.Status()
			So(phase, ShouldEqual, PhaseRampDown)
			So(level, ShouldBeLessThan, full)

			h.at(18, 30)
			phase, level = h.sched.Status()
			So(phase, ShouldEqual, PhaseOff)
			So(level, ShouldEqual, 0)
			in, ok := h.lastFor(pkg.RoleLightMain)
			So(ok, ShouldBeTrue)
			So(in.On, ShouldBeFalse)
		})

		Convey("亮度不变时不重发指令", func() {
			h.at(12, 0)
			n := len(h.intents)
			h.at(12, 5)
			h.at(12, 10)
			So(len(h.intents), ShouldEqual, n)
		})
	})

	Convey("跨午夜光照期 (18/6)", t, func() {
		h := newHarness(t, func(c *pkg.Config) {
			c.Photoperiod.LightOn = "06:00"
			c.Photoperiod.LightOff = "00:00"
		})
		h.at(23, 0)
		So(h.sched.LightsOn(), ShouldBeTrue)
		h.at(1, 0)
		So(h.sched.LightsOn(), ShouldBeFalse)
	})
}

func TestSchedulerSpecialLights(t *testing.T) {
	Convey("远红光窗口", t, func() {
		h := newHarness(t, func(c *pkg.Config) {
			c.Photoperiod.FarRed = pkg.FarRedConfig{
				Enable: true, StartMinutes: 15, EndMinutes: 15, Intensity: 30,
			}
		})

		h.at(6, 5) // 开灯后5分钟，落在起始窗口
		fr, ok := h.lastFor(pkg.RoleLightFarRed)
		So(ok, ShouldBeTrue)
		So(fr.On, ShouldBeTrue)

		h.at(12, 0) // 中段窗口外
		fr, _ = h.lastFor(pkg.RoleLightFarRed)
		So(fr.On, ShouldBeFalse)

		h.at(17, 50) // 关灯前10分钟，落在收尾窗口
		fr, _ = h.lastFor(pkg.RoleLightFarRed)
		So(fr.On, ShouldBeTrue)
	})

	Convey("UV窗口：延迟进入、提前退出", t, func() {
		h := newHarness(t, func(c *pkg.Config) {
			c.Photoperiod.UV = pkg.UVConfig{
				Enable: true, DelayAfterStart: 60, StopBeforeEnd: 60,
				MaxDurationHours: 6, Intensity: 50,
			}
		})

		h.at(6, 30) // 开灯30分钟，未到UV窗口
		_, seen := h.lastFor(pkg.RoleLightUV)
		So(seen, ShouldBeFalse)

		h.at(8, 0)
		uv, ok := h.lastFor(pkg.RoleLightUV)
		So(ok, ShouldBeTrue)
		So(uv.On, ShouldBeTrue)

		h.at(17, 30) // 关灯前30分钟，已出窗口
		uv, _ = h.lastFor(pkg.RoleLightUV)
		So(uv.On, ShouldBeFalse)
	})
}

func TestSchedulerDrying(t *testing.T) {
	Convey("干燥期整日灭灯", t, func() {
		h := newHarness(t, nil)
		h.at(12, 0)
		phase, _ := h.sched.Status()
		So(phase, ShouldEqual, PhaseFullOn)

		So(h.sched.profiles.StartDrying(profile.DryElClassico), ShouldBeNil)
		h.at(12, 5)
		phase, level := h.sched.Status()
		So(phase, ShouldEqual, PhaseOff)
		So(level, ShouldEqual, 0)
		So(h.sched.LightsOn(), ShouldBeFalse)

		in, ok := h.lastFor(pkg.RoleLightMain)
		So(ok, ShouldBeTrue)
		So(in.On, ShouldBeFalse)

		Convey("退出干燥后日程恢复", func() {
			So(h.sched.profiles.StopDrying(), ShouldBeNil)
			h.at(12, 10)
			phase, _ := h.sched.Status()
			So(phase, ShouldEqual, PhaseFullOn)
		})
	})
}

func TestSchedulerDLI(t *testing.T) {
	Convey("DLI 滚动累计与结算", t, func() {
		h := newHarness(t, nil)

		Convey("实测PPFD按时间积分", func() {
			h.store.Publish(&pkg.RoomSnapshot{
				Room: "tent-1",
				Values: map[pkg.Quantity]pkg.Value{
					pkg.QuantityPPFD: pkg.KnownValue(500, time.Now()),
				},
			})
			h.at(12, 0) // 首个样本只建立基线
			for m := 1; m <= 10; m++ {
				h.at(12, m)
			}
			// 500 µmol/m²/s × 600 s = 0.30 mol/m²
			So(h.sched.DLI(), ShouldAlmostEqual, 0.30, 0.001)
		})

		Convey("无PPFD时照度按系数折算", func() {
			h := newHarness(t, func(cfg *pkg.Config) {
				cfg.Photoperiod.LuxToPPFD = 15.0
			})
			h.store.Publish(&pkg.RoomSnapshot{
				Room: "tent-1",
				Values: map[pkg.Quantity]pkg.Value{
					pkg.QuantityLux: pkg.KnownValue(7500, time.Now()),
				},
			})
			h.at(12, 0)
			for m := 1; m <= 10; m++ {
				h.at(12, m)
			}
			// 7500 lux / 15 = 500 µmol/m²/s × 600 s = 0.30 mol/m²
			So(h.sched.DLI(), ShouldAlmostEqual, 0.30, 0.001)
		})

		Convey("实测PPFD优先于照度折算", func() {
			h := newHarness(t, func(cfg *pkg.Config) {
				cfg.Photoperiod.LuxToPPFD = 15.0
			})
			h.store.Publish(&pkg.RoomSnapshot{
				Room: "tent-1",
				Values: map[pkg.Quantity]pkg.Value{
					pkg.QuantityPPFD: pkg.KnownValue(100, time.Now()),
					pkg.QuantityLux:  pkg.KnownValue(7500, time.Now()),
				},
			})
			h.at(12, 0)
			for m := 1; m <= 10; m++ {
				h.at(12, m)
			}
			// 100 µmol/m²/s × 600 s = 0.06 mol/m²
			So(h.sched.DLI(), ShouldAlmostEqual, 0.06, 0.001)
		})

		Convey("光照期结束且DLI严重不足时记Info告警", func() {
			h.at(17, 58)
			h.at(18, 31) // 穿过关灯时刻，触发结算
			var found bool
			for _, a := range h.alerts {
				if a.Source == "photoperiod" && a.Severity == pkg.SeverityInfo {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})
	})
}
