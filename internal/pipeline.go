package internal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"growgate/internal/actuator"
	"growgate/internal/api"
	"growgate/internal/connector"
	"growgate/internal/control"
	"growgate/internal/dosing"
	"growgate/internal/eventbus"
	"growgate/internal/history"
	"growgate/internal/notify"
	"growgate/internal/photoperiod"
	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/registry"
	"growgate/internal/safety"
	"growgate/internal/sensor"
	"growgate/internal/sink"
)

// StartPipeline 组装并启动整条控制链：
// connector -> aggregator -> snapshot -> (control | photoperiod | dosing) -> actuator，
// 旁路是 sink 遥测扇出、eventbus 告警分发和运维 API。
// 各环节只通过快照与回调耦合，任何一环失败都在这里兜底上报。
func StartPipeline(ctx context.Context) error {
	logger := pkg.LoggerFromContext(ctx)
	config := pkg.ConfigFromContext(ctx)
	errChan := pkg.ErrChanFromContext(ctx)

	// 0. 快照持有者，整条链的唯一共享状态
	store := pkg.NewSnapshotStore(config.Room.Name)

	// 1. 遥测下游集合
	sinks, err := sink.New(pkg.WithLoggerAndModule(ctx, logger, "Sink"))
	if err != nil {
		return fmt.Errorf("初始化遥测下游失败: %w", err)
	}
	sinks.Start()

	// 2. 告警走事件总线，所有环节只管发布
	alert := eventbus.PublishAlert

	// 3. 审计落库（可选）与告警分发
	audit, err := history.New(pkg.WithLoggerAndModule(ctx, logger, "History"))
	if err != nil {
		return fmt.Errorf("初始化审计落库失败: %w", err)
	}
	notifier, err := notify.New(pkg.WithLoggerAndModule(ctx, logger, "Notify"))
	if err != nil {
		return fmt.Errorf("初始化告警分发器失败: %w", err)
	}
	notifier.Start(ctx)

	// 4. 设备登记表与安全联锁
	reg := registry.New(ctx)
	interlock := safety.New(pkg.WithLoggerAndModule(ctx, logger, "Safety"), alert)

	// 5. 生长档案
	var recorder profile.Recorder
	if audit != nil {
		recorder = audit
	}
	profiles, err := profile.NewManager(pkg.WithLoggerAndModule(ctx, logger, "Profile"), alert, recorder)
	if err != nil {
		return fmt.Errorf("初始化生长档案失败: %w", err)
	}

	// 6. 指令写出器。意图扇出：下发 + API最近环 + 遥测
	writer, err := actuator.New(pkg.WithLoggerAndModule(ctx, logger, "Actuator"), alert)
	if err != nil {
		return fmt.Errorf("初始化指令通道失败: %w", err)
	}
	if err = writer.Start(); err != nil {
		return fmt.Errorf("启动指令通道失败: %w", err)
	}

	var apiServer *api.Server // 先声明，emit 闭包引用，组装完 API 后生效
	emit := func(in pkg.ActuatorIntent) {
		writer.Submit(in)
		if apiServer != nil {
			apiServer.RecordIntent(in)
		}
		clone := in
		sinks.Publish(sink.Event{Kind: sink.KindIntent, Intent: &clone})
	}

	// 7. 三个控制环
	engine := control.New(pkg.WithLoggerAndModule(ctx, logger, "Control"),
		store, profiles, interlock, reg, emit, alert)
	scheduler := photoperiod.New(pkg.WithLoggerAndModule(ctx, logger, "Photoperiod"),
		store, profiles, interlock, emit, alert)
	engine.SetLightsOn(scheduler.LightsOn)
	doser := dosing.New(pkg.WithLoggerAndModule(ctx, logger, "Dosing"),
		store, profiles, interlock, reg, emit, alert)

	// 8. 聚合器，快照发布后同步扇出遥测
	agg, err := sensor.New(pkg.WithLoggerAndModule(ctx, logger, "Sensor"), store, alert)
	if err != nil {
		return fmt.Errorf("初始化聚合器失败: %w", err)
	}
	agg.SetPublishHook(func(snap *pkg.RoomSnapshot) {
		sinks.Publish(sink.Event{Kind: sink.KindSnapshot, Snapshot: snap})
	})

	// 9. 接入通道。读数进聚合器并刷新登记表的 LastSeen
	ingest := connector.Ingest{
		Reading: func(r pkg.Reading) error {
			ts := r.Ts
			if ts.IsZero() {
				ts = time.Now()
			}
			reg.Touch(r.Role, ts)
			return agg.Ingest(r)
		},
		Device: reg.Upsert,
	}
	conn, err := connector.New(pkg.WithLoggerAndModule(ctx, logger, "Connector"), ingest)
	if err != nil {
		logger.Error("初始化接入通道失败", zap.Error(err))
		errChan <- fmt.Errorf("初始化接入通道失败: %w", err)
		return nil
	}

	// 10. 运维 API
	apiServer = api.NewServer(pkg.WithLoggerAndModule(ctx, logger, "API"), api.Deps{
		Store:     store,
		Registry:  reg,
		Profiles:  profiles,
		Interlock: interlock,
		Scheduler: scheduler,
		Doser:     doser,
		Audit:     audit,
		Ingest:    ingest.Reading,
	})

	// 11. 告警订阅：分发器、API最近环、遥测
	if err = eventbus.SubscribeAlerts(func(a pkg.AlertEvent) {
		notifier.Enqueue(a)
		apiServer.RecordAlert(a)
		clone := a
		sinks.Publish(sink.Event{Kind: sink.KindAlert, Alert: &clone})
	}); err != nil {
		return fmt.Errorf("订阅告警总线失败: %w", err)
	}

	// 12. 全部就绪后拉起各环节
	go agg.Start()
	engine.Start(ctx)
	scheduler.Start(ctx)
	doser.Start(ctx)
	go func() {
		if err := conn.Start(); err != nil {
			errChan <- fmt.Errorf("接入通道退出: %w", err)
		}
	}()
	if config.API.Enable {
		go func() {
			if err := apiServer.Run(ctx); err != nil {
				logger.Error("运维接口关闭异常", zap.Error(err))
			}
		}()
	}

	// 13. 退出时回收持久连接
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		_ = writer.Close()
		audit.Close()
	}()

	logger.Info("===控制链已全部启动===", zap.String("room", config.Room.Name))
	return nil
}
