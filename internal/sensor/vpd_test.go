package sensor

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVPD(t *testing.T) {
	Convey("VPD 计算", t, func() {
		Convey("25°C / 60%RH / 叶温偏移2°C 约为 0.91 kPa", func() {
			So(VPD(25, 60, 2.0), ShouldAlmostEqual, 0.91, 0.02)
		})

		Convey("湿度越高VPD越低", func() {
			So(VPD(25, 80, 2.0), ShouldBeLessThan, VPD(25, 50, 2.0))
		})

		Convey("温度越高VPD越高", func() {
			So(VPD(28, 60, 2.0), ShouldBeGreaterThan, VPD(22, 60, 2.0))
		})

		Convey("饱和环境下结果钳到0，不出负值", func() {
			So(VPD(25, 100, 2.0), ShouldEqual, 0)
		})

		Convey("纯函数：同样输入得到同样输出", func() {
			So(VPD(24.3, 61.7, 2.0), ShouldEqual, VPD(24.3, 61.7, 2.0))
		})
	})
}

func TestDewpoint(t *testing.T) {
	Convey("露点计算", t, func() {
		Convey("25°C / 60%RH 露点约 16.7°C", func() {
			So(Dewpoint(25, 60), ShouldAlmostEqual, 16.7, 0.1)
		})

		Convey("100%RH 时露点等于气温", func() {
			So(Dewpoint(20, 100), ShouldAlmostEqual, 20, 0.01)
		})

		Convey("湿度为0不崩溃", func() {
			So(Dewpoint(20, 0), ShouldBeLessThan, 0)
		})
	})
}
