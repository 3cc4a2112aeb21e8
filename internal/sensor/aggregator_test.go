package sensor

import (
	"context"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

func newTestAggregator(t *testing.T, calibrate map[string]string) (*Aggregator, *pkg.SnapshotStore, *[]pkg.AlertEvent) {
	t.Helper()
	config := &pkg.Config{
		Room: pkg.RoomConfig{Name: "tent-1", LeafTempOffset: 2.0},
		Sensor: pkg.SensorConfig{
			Interval:  time.Second,
			Stale:     map[string]time.Duration{"temperature": 60 * time.Second, "humidity": 60 * time.Second},
			Calibrate: calibrate,
		},
	}
	ctx := pkg.WithConfig(context.Background(), config)
	ctx = pkg.WithLogger(ctx, zap.NewNop())

	store := pkg.NewSnapshotStore("tent-1")
	var alerts []pkg.AlertEvent
	agg, err := New(ctx, store, func(a pkg.AlertEvent) { alerts = append(alerts, a) })
	if err != nil {
		t.Fatalf("构造聚合器失败: %v", err)
	}
	return agg, store, &alerts
}

func TestIngestAndPublish(t *testing.T) {
	Convey("读数汇聚与快照发布", t, func() {
		now := time.Now()

		Convey("角色缺量名时按角色推断，发布后快照可读", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 24.5, Ts: now}), ShouldBeNil)
			agg.publish(now)

			v := store.Load().Get(pkg.QuantityTemperature)
			So(v.Known, ShouldBeTrue)
			So(v.V, ShouldEqual, 24.5)
		})

		Convey("华氏读数归一为摄氏", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{
				Role: pkg.RoleSensorTemp, Quantity: pkg.QuantityTemperature,
				Value: 77, Unit: "F", Ts: now,
			}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityTemperature).V, ShouldAlmostEqual, 25, 0.001)
		})

		Convey("标定表达式在入口处生效", func() {
			agg, store, _ := newTestAggregator(t, map[string]string{
				string(pkg.RoleSensorEC): "value * 0.5 + 100",
			})
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorEC, Value: 2000, Ts: now}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityEC).V, ShouldEqual, 1100)
		})

		Convey("非法读数被丢弃，不进快照", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{
				Role: pkg.RoleSensorTemp, Quantity: pkg.QuantityTemperature,
				Value: math.NaN(), Ts: now,
			}), ShouldBeNil)
			So(agg.Ingest(pkg.Reading{
				Role: pkg.RoleSensorPH, Quantity: pkg.QuantityPH, Value: 20, Ts: now,
			}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityTemperature).Known, ShouldBeFalse)
			So(store.Load().Get(pkg.QuantityPH).Known, ShouldBeFalse)
		})

		Convey("同一量保留较新的读数，乱序旧读数不回退", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 25, Ts: now}), ShouldBeNil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 20, Ts: now.Add(-30 * time.Second)}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityTemperature).V, ShouldEqual, 25)
		})
	})
}

func TestStalenessAndDerived(t *testing.T) {
	Convey("过期判定与派生量", t, func() {
		now := time.Now()

		Convey("超过过期阈值的量变为 Unknown 并告警一次", func() {
			agg, store, alerts := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 24, Ts: now.Add(-2 * time.Minute)}), ShouldBeNil)
			agg.publish(now)
			agg.publish(now.Add(time.Second))

			So(store.Load().Get(pkg.QuantityTemperature).Known, ShouldBeFalse)
			warned := 0
			for _, a := range *alerts {
				if a.Severity == pkg.SeverityWarning {
					warned++
				}
			}
			So(warned, ShouldEqual, 1)
		})

		Convey("过期量恢复后发 Info 告警", func() {
			agg, store, alerts := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 24, Ts: now.Add(-2 * time.Minute)}), ShouldBeNil)
			agg.publish(now)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 24.8, Ts: now}), ShouldBeNil)
			agg.publish(now.Add(time.Second))

			So(store.Load().Get(pkg.QuantityTemperature).Known, ShouldBeTrue)
			last := (*alerts)[len(*alerts)-1]
			So(last.Severity, ShouldEqual, pkg.SeverityInfo)
		})

		Convey("温湿度齐全时派生 VPD 与露点", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 25, Ts: now}), ShouldBeNil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorHumidity, Value: 60, Ts: now}), ShouldBeNil)
			agg.publish(now)

			snap := store.Load()
			So(snap.Get(pkg.QuantityVPD).Known, ShouldBeTrue)
			So(snap.Get(pkg.QuantityVPD).V, ShouldAlmostEqual, 0.91, 0.02)
			So(snap.Get(pkg.QuantityDewpoint).Known, ShouldBeTrue)
		})

		Convey("缺温湿度时直测 VPD 读数直接进快照", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorVPD, Value: 1.1, Ts: now}), ShouldBeNil)
			agg.publish(now)

			v := store.Load().Get(pkg.QuantityVPD)
			So(v.Known, ShouldBeTrue)
			So(v.V, ShouldEqual, 1.1)
			// 露点无法从直测VPD还原，保持 Unknown
			So(store.Load().Get(pkg.QuantityDewpoint).Known, ShouldBeFalse)
		})

		Convey("温湿度齐全时派生值优先于直测 VPD", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorVPD, Value: 2.5, Ts: now}), ShouldBeNil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 25, Ts: now}), ShouldBeNil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorHumidity, Value: 60, Ts: now}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityVPD).V, ShouldAlmostEqual, 0.91, 0.02)
		})

		Convey("过期的直测 VPD 不续命，照样 Unknown", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorVPD, Value: 1.1, Ts: now.Add(-5 * time.Minute)}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityVPD).Known, ShouldBeFalse)
		})

		Convey("湿度缺失时 VPD 必须是 Unknown，绝不猜测", func() {
			agg, store, _ := newTestAggregator(t, nil)
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 25, Ts: now}), ShouldBeNil)
			agg.publish(now)

			So(store.Load().Get(pkg.QuantityVPD).Known, ShouldBeFalse)
			So(store.Load().Get(pkg.QuantityDewpoint).Known, ShouldBeFalse)
		})

		Convey("发布回调拿到的是已发布的快照", func() {
			agg, store, _ := newTestAggregator(t, nil)
			var got *pkg.RoomSnapshot
			agg.SetPublishHook(func(s *pkg.RoomSnapshot) { got = s })
			So(agg.Ingest(pkg.Reading{Role: pkg.RoleSensorTemp, Value: 24, Ts: now}), ShouldBeNil)
			agg.publish(now)

			So(got, ShouldNotBeNil)
			So(got.Seq, ShouldEqual, store.Load().Seq)
		})
	})
}
