package profile

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"growgate/internal/pkg"
)

func TestDryPhaseAt(t *testing.T) {
	Convey("干燥时段表", t, func() {

		Convey("ElClassico 按 72 小时一段推进", func() {
			ph, done := dryPhaseAt(DryElClassico, 0)
			So(ph.Name, ShouldEqual, "start")
			So(done, ShouldBeFalse)

			ph, _ = dryPhaseAt(DryElClassico, 72*time.Hour)
			So(ph.Name, ShouldEqual, "halfTime")

			ph, _ = dryPhaseAt(DryElClassico, 150*time.Hour)
			So(ph.Name, ShouldEqual, "endTime")
			So(ph.Humidity, ShouldResemble, pkg.Range{Min: 55, Max: 61})
		})

		Convey("跑满全程后钉在末段并报完成", func() {
			ph, done := dryPhaseAt(Dry5DayDry, 10*24*time.Hour)
			So(ph.Name, ShouldEqual, "endTime")
			So(done, ShouldBeTrue)
		})

		Convey("5DayDry 各段带 VPD 目标", func() {
			ph, _ := dryPhaseAt(Dry5DayDry, 50*time.Hour)
			So(ph.Name, ShouldEqual, "halfTime")
			So(ph.VPD.Min, ShouldBeGreaterThan, 0)
		})

		Convey("DewBased 不设 VPD 目标，只按湿度走", func() {
			ph, _ := dryPhaseAt(DryDewBased, time.Hour)
			So(ph.VPD.Max, ShouldEqual, 0)
		})
	})
}

func TestManagerDrying(t *testing.T) {
	Convey("干燥模式接管档案", t, func() {
		m, alerts, err := newTestManager(t, "cannabis", string(StageLateFlower))
		So(err, ShouldBeNil)
		start := time.Date(2026, 8, 28, 8, 0, 0, 0, time.Local)
		clock := start
		m.now = func() time.Time { return clock }

		Convey("未知模式被拒绝", func() {
			err := m.StartDrying("AirFry")
			So(err, ShouldWrap, pkg.ErrInvalidProfile)
			_, running := m.Drying()
			So(running, ShouldBeFalse)
		})

		Convey("启动后 Active 返回时段包线：灭灯、CO2 与配剂静默", func() {
			So(m.StartDrying(DryElClassico), ShouldBeNil)
			p := m.Active()
			So(p.Stage, ShouldEqual, StageDrying)
			So(p.Intensity.Max, ShouldEqual, 0)
			So(p.Humidity, ShouldResemble, pkg.Range{Min: 59, Max: 65})
			So(p.CO2.Min, ShouldEqual, 0)
			So(p.EC.Max, ShouldEqual, 20000)
			So(len(*alerts), ShouldBeGreaterThan, 0)
		})

		Convey("时间推进跨段后包线跟着收紧", func() {
			So(m.StartDrying(DryElClassico), ShouldBeNil)
			clock = start.Add(80 * time.Hour)
			So(m.Active().Humidity, ShouldResemble, pkg.Range{Min: 57, Max: 63})

			st, running := m.Drying()
			So(running, ShouldBeTrue)
			So(st.Phase, ShouldEqual, "halfTime")
			So(st.Finished, ShouldBeFalse)
		})

		Convey("覆盖层在干燥期不参与合并", func() {
			hot := pkg.Range{Min: 30, Max: 35}
			So(m.ApplyOverride(Override{Temperature: &hot}), ShouldBeNil)
			So(m.StartDrying(DryDewBased), ShouldBeNil)
			So(m.Active().Temperature, ShouldResemble, pkg.Range{Min: 19, Max: 21})
		})

		Convey("StopDrying 恢复生长阶段包线", func() {
			So(m.StartDrying(Dry5DayDry), ShouldBeNil)
			So(m.StopDrying(), ShouldBeNil)
			So(m.Active().Stage, ShouldEqual, StageLateFlower)

			Convey("再次 StopDrying 报错", func() {
				err := m.StopDrying()
				So(err, ShouldWrap, pkg.ErrInvalidProfile)
			})
		})
	})
}
