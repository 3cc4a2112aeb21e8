// Package eventbus 告警事件的进程内总线。
// 各环节只管往总线发，notify、API告警环、遥测sink各自订阅，互不感知。
package eventbus

import (
	"sync"

	"github.com/asaskevich/EventBus"

	"growgate/internal/pkg"
)

var (
	globalEventBus EventBus.Bus
	once           sync.Once
)

// GetEventBus 返回全局唯一的 EventBus 实例
func GetEventBus() EventBus.Bus {
	once.Do(func() {
		globalEventBus = EventBus.New()
	})
	return globalEventBus
}

// PublishAlert 发布告警事件，异步投递，绝不阻塞发布方的控制循环
func PublishAlert(a pkg.AlertEvent) {
	GetEventBus().Publish(pkg.AlertTopic, a)
}

// SubscribeAlerts 订阅告警事件，handler 在总线自己的 goroutine 里执行
func SubscribeAlerts(handler func(pkg.AlertEvent)) error {
	return GetEventBus().SubscribeAsync(pkg.AlertTopic, handler, false)
}
