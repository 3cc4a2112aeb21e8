package notify

import (
	"context"

	"growgate/internal/pkg"
)

// Channel 定义了所有通知渠道的通用接口
type Channel interface {
	Name() string
	Send(a pkg.AlertEvent) error
}

// ChFactoryFunc 代表一个通知渠道的工厂函数
type ChFactoryFunc func(ctx context.Context, config pkg.ChannelConfig) (Channel, error)

// Factories 全局工厂映射，各渠道在 init() 里注册自己的构造函数
var Factories = make(map[string]ChFactoryFunc)

// RegisterChannel 注册一个通知渠道
func RegisterChannel(channelType string, factory ChFactoryFunc) {
	Factories[channelType] = factory
}
