// Package sink 遥测下游：把快照、意图、告警送进外部存储与监控系统。
// 下游失联绝不反压控制链路，通道满了就丢。
package sink

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// EventKind 遥测事件类别
type EventKind string

const (
	KindSnapshot EventKind = "snapshot"
	KindIntent   EventKind = "intent"
	KindAlert    EventKind = "alert"
)

// Event 是控制核心与各 sink 之间的遥测载体
type Event struct {
	Kind     EventKind
	Snapshot *pkg.RoomSnapshot
	Intent   *pkg.ActuatorIntent
	Alert    *pkg.AlertEvent
}

// Template 定义了所有遥测下游的通用接口
type Template interface {
	GetType() string
	Start(chan Event)
}

// FactoryFunc 代表一个遥测下游的工厂函数
type FactoryFunc func(context.Context) (Template, error)

// Factories 全局工厂映射，用于注册不同下游类型的构造函数
var Factories = make(map[string]FactoryFunc)

// Register 注册一个遥测下游
func Register(sinkType string, factory FactoryFunc) {
	Factories[sinkType] = factory
}

// Collection 已启用的下游集合，持有每个下游的专属事件通道
type Collection struct {
	logger *zap.Logger
	mu     sync.RWMutex
	chans  map[string]chan Event
	sinks  map[string]Template
}

// New 按配置初始化下游集合
var New = func(ctx context.Context) (*Collection, error) {
	logger := pkg.LoggerFromContext(ctx)
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	logger.Debug("Sink Factory:", zap.Strings("Factories", factoryTypes))

	c := &Collection{
		logger: logger,
		chans:  make(map[string]chan Event),
		sinks:  make(map[string]Template),
	}
	for _, sinkConfig := range pkg.ConfigFromContext(ctx).Sink {
		if !sinkConfig.Enable {
			continue
		}
		logger.Info(fmt.Sprintf("===正在启动Sink: %s===", sinkConfig.Type))
		factory, exists := Factories[sinkConfig.Type]
		if !exists {
			return nil, fmt.Errorf("未注册的遥测下游类型: %s", sinkConfig.Type)
		}
		s, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("初始化下游 %s 失败: %w", sinkConfig.Type, err)
		}
		c.sinks[sinkConfig.Type] = s
		c.chans[sinkConfig.Type] = make(chan Event, 200)
	}
	return c, nil
}

// Start 启动所有下游
func (c *Collection) Start() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, s := range c.sinks {
		go s.Start(c.chans[key])
	}
}

// Publish 把事件广播给每个下游。下游通道满了丢事件，绝不阻塞调用方
func (c *Collection) Publish(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, ch := range c.chans {
		select {
		case ch <- e:
		default:
			pkg.GetPerformanceMetrics().IncMsgErrors("sink_" + key)
		}
	}
}
