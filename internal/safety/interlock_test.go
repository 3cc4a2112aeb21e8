package safety

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"growgate/internal/pkg"
)

func snapWith(q pkg.Quantity, v float64) *pkg.RoomSnapshot {
	return &pkg.RoomSnapshot{
		Room:   "tent-1",
		Values: map[pkg.Quantity]pkg.Value{q: pkg.KnownValue(v, time.Now())},
		Ts:     time.Now(),
	}
}

func newTestInterlock(debounce time.Duration) (*Interlock, *[]pkg.AlertEvent) {
	alerts := &[]pkg.AlertEvent{}
	cfg := &pkg.Config{}
	cfg.Safety.Debounce = debounce
	ctx := pkg.WithConfig(context.Background(), cfg)
	s := New(ctx, func(a pkg.AlertEvent) { *alerts = append(*alerts, a) })
	return s, alerts
}

func TestInterlockEstop(t *testing.T) {
	Convey("硬限位与紧急停机", t, func() {
		s, alerts := newTestInterlock(10 * time.Millisecond)

		Convey("初始为自动模式，指令放行", func() {
			So(s.Mode(), ShouldEqual, pkg.ModeAuto)
			d := s.Authorize(pkg.ActuatorIntent{Role: pkg.RoleHeater, On: true})
			So(d.Allowed, ShouldBeTrue)
		})

		Convey("单次越界不停机，需持续超过去抖窗口", func() {
			hot := snapWith(pkg.QuantityTemperature, 60)
			So(s.Observe(hot), ShouldBeFalse)
			So(s.Mode(), ShouldEqual, pkg.ModeAuto)

			time.Sleep(15 * time.Millisecond)
			So(s.Observe(hot), ShouldBeTrue)
			So(s.Mode(), ShouldEqual, pkg.ModeEmergencyStop)
			So(len(*alerts), ShouldEqual, 1)
			So((*alerts)[0].Severity, ShouldEqual, pkg.SeverityCritical)
		})

		Convey("去抖窗口内恢复正常则清零计时", func() {
			hot := snapWith(pkg.QuantityTemperature, 60)
			ok := snapWith(pkg.QuantityTemperature, 25)
			So(s.Observe(hot), ShouldBeFalse)
			So(s.Observe(ok), ShouldBeFalse)
			time.Sleep(15 * time.Millisecond)
			So(s.Observe(hot), ShouldBeFalse) // 重新开始计时
			So(s.Mode(), ShouldEqual, pkg.ModeAuto)
		})

		Convey("Unknown 槽位不触发停机", func() {
			empty := &pkg.RoomSnapshot{Room: "tent-1", Values: map[pkg.Quantity]pkg.Value{}}
			So(s.Observe(empty), ShouldBeFalse)
			time.Sleep(15 * time.Millisecond)
			So(s.Observe(empty), ShouldBeFalse)
		})

		Convey("停机中仅放行关断指令", func() {
			So(s.Trigger("测试"), ShouldBeTrue)
			on := s.Authorize(pkg.ActuatorIntent{Role: pkg.RoleHeater, On: true})
			So(on.Allowed, ShouldBeFalse)
			off := s.Authorize(pkg.OffIntent(pkg.RoleHeater, "estop"))
			So(off.Allowed, ShouldBeTrue)
		})

		Convey("传感器读数序列不能解除停机，只有人工确认能", func() {
			s.Trigger("测试")
			ok := snapWith(pkg.QuantityTemperature, 25)
			for i := 0; i < 5; i++ {
				s.Observe(ok)
			}
			So(s.Mode(), ShouldEqual, pkg.ModeEmergencyStop)
			So(s.SetMode(pkg.ModeAuto), ShouldNotBeNil)

			So(s.Acknowledge("alice"), ShouldBeNil)
			So(s.Mode(), ShouldEqual, pkg.ModeAuto)
		})

		Convey("非停机状态下确认返回错误", func() {
			So(s.Acknowledge("alice"), ShouldNotBeNil)
		})

		Convey("解除后恢复进入停机前的模式", func() {
			So(s.SetMode(pkg.ModeManual), ShouldBeNil)
			s.Trigger("测试")
			So(s.Acknowledge("bob"), ShouldBeNil)
			So(s.Mode(), ShouldEqual, pkg.ModeManual)
		})
	})

	Convey("配置可覆盖默认硬限位", t, func() {
		alerts := []pkg.AlertEvent{}
		cfg := &pkg.Config{}
		cfg.Safety.Debounce = time.Millisecond
		cfg.Safety.Hard = map[string]pkg.Range{"co2": {Min: 0, Max: 1200}}
		ctx := pkg.WithConfig(context.Background(), cfg)
		s := New(ctx, func(a pkg.AlertEvent) { alerts = append(alerts, a) })

		high := snapWith(pkg.QuantityCO2, 1500)
		So(s.Observe(high), ShouldBeFalse)
		time.Sleep(5 * time.Millisecond)
		So(s.Observe(high), ShouldBeTrue)
	})
}
