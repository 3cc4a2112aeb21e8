package profile

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"growgate/internal/pkg"
)

func newTestManager(t *testing.T, plantType string, stage string) (*Manager, *[]pkg.AlertEvent, error) {
	t.Helper()
	alerts := &[]pkg.AlertEvent{}
	cfg := &pkg.Config{}
	cfg.Profile.PlantType = plantType
	cfg.Profile.Stage = stage
	ctx := pkg.WithConfig(context.Background(), cfg)
	m, err := NewManager(ctx, func(a pkg.AlertEvent) { *alerts = append(*alerts, a) }, nil)
	return m, alerts, err
}

func TestManagerActive(t *testing.T) {
	Convey("构造默认档案后", t, func() {
		m, _, err := newTestManager(t, "generic", string(StageMidVeg))
		So(err, ShouldBeNil)

		Convey("Active 返回阶段基线", func() {
			p := m.Active()
			So(p.Stage, ShouldEqual, StageMidVeg)
			env := stageEnvelopes[StageMidVeg]
			So(p.VPD, ShouldResemble, env.VPD)
			So(p.Temperature, ShouldResemble, env.Temperature)
			So(p.CO2, ShouldResemble, defaultCO2)
			So(p.LightOn, ShouldEqual, "06:00")
			So(p.LightOff, ShouldEqual, "00:00")
		})

		Convey("覆盖层按字段合并，未覆盖字段保持基线", func() {
			vpd := pkg.Range{Min: 1.0, Max: 1.3}
			So(m.ApplyOverride(Override{VPD: &vpd}), ShouldBeNil)
			p := m.Active()
			So(p.VPD, ShouldResemble, vpd)
			So(p.Temperature, ShouldResemble, stageEnvelopes[StageMidVeg].Temperature)
		})

		Convey("区间倒置的覆盖被整体拒绝", func() {
			bad := pkg.Range{Min: 2.0, Max: 1.0}
			err := m.ApplyOverride(Override{VPD: &bad})
			So(err, ShouldWrap, pkg.ErrInvalidProfile)
			So(m.Active().VPD, ShouldResemble, stageEnvelopes[StageMidVeg].VPD)
		})
	})
}

func TestManagerStage(t *testing.T) {
	Convey("阶段推进", t, func() {
		m, alerts, err := newTestManager(t, "cannabis", string(StageMidVeg))
		So(err, ShouldBeNil)

		Convey("向前推进成功并记录历史", func() {
			So(m.AdvanceStage(StageEarlyFlower), ShouldBeNil)
			So(m.Active().Stage, ShouldEqual, StageEarlyFlower)
			h := m.History()
			So(h[len(h)-1].From, ShouldEqual, StageMidVeg)
			So(h[len(h)-1].To, ShouldEqual, StageEarlyFlower)
			So(len(*alerts), ShouldEqual, 1)
		})

		Convey("回退被拒绝", func() {
			err := m.AdvanceStage(StageGermination)
			So(err, ShouldWrap, pkg.ErrInvalidProfile)
			So(m.Active().Stage, ShouldEqual, StageMidVeg)
		})

		Convey("同阶段重复推进被拒绝", func() {
			So(m.AdvanceStage(StageMidVeg), ShouldNotBeNil)
		})

		Convey("未知阶段被拒绝", func() {
			So(m.AdvanceStage(Stage("bogus")), ShouldNotBeNil)
		})

		Convey("Reset 允许回到早期阶段并清空覆盖", func() {
			vpd := pkg.Range{Min: 1.0, Max: 1.2}
			So(m.ApplyOverride(Override{VPD: &vpd}), ShouldBeNil)
			So(m.Reset(StageGermination), ShouldBeNil)
			p := m.Active()
			So(p.Stage, ShouldEqual, StageGermination)
			So(p.VPD, ShouldResemble, stageEnvelopes[StageGermination].VPD)
		})

		Convey("开花后光周期切换到 12/12", func() {
			So(m.AdvanceStage(StageMidFlower), ShouldBeNil)
			p := m.Active()
			So(p.LightOn, ShouldEqual, "06:00")
			So(p.LightOff, ShouldEqual, "18:00")
		})
	})

	Convey("未知植物类型在构造时被拒绝", t, func() {
		_, _, err := newTestManager(t, "orchid", string(StageMidVeg))
		So(err, ShouldWrap, pkg.ErrInvalidProfile)
	})
}

func TestAutoPlan(t *testing.T) {
	Convey("auto 计划开花期不缩短光照", t, func() {
		cfg := &pkg.Config{}
		cfg.Profile.PlantType = "cannabis"
		cfg.Profile.Stage = string(StageMidFlower)
		cfg.Profile.Plan = PlanAuto
		ctx := pkg.WithConfig(context.Background(), cfg)
		m, err := NewManager(ctx, func(pkg.AlertEvent) {}, nil)
		So(err, ShouldBeNil)

		p := m.Active()
		So(p.Plan, ShouldEqual, PlanAuto)
		So(p.LightOff, ShouldEqual, "00:00")
	})

	Convey("未识别的计划在构造时被拒绝", t, func() {
		cfg := &pkg.Config{}
		cfg.Profile.PlantType = "cannabis"
		cfg.Profile.Stage = string(StageMidVeg)
		cfg.Profile.Plan = "lunar"
		ctx := pkg.WithConfig(context.Background(), cfg)
		_, err := NewManager(ctx, func(pkg.AlertEvent) {}, nil)
		So(err, ShouldWrap, pkg.ErrInvalidProfile)
	})
}
