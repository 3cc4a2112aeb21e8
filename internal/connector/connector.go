// Package connector 负责从外部世界收读数和设备登记，喂给聚合器与登记表。
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"growgate/internal/pkg"
	"growgate/internal/registry"
)

// Ingest 连接器向内输送数据的回调集合，连接器不直接依赖聚合器和登记表
type Ingest struct {
	Reading func(pkg.Reading) error
	Device  func(registry.Device)
}

// Connector 是所有接入通道的通用接口
type Connector interface {
	Start() error
	Close() error
}

// FactoryFunc 代表一个接入通道的工厂函数
type FactoryFunc func(ctx context.Context, ingest Ingest) (Connector, error)

// Factories 全局工厂映射，用于注册不同通道类型的构造函数
var Factories = make(map[string]FactoryFunc)

// Register 注册一个接入通道
func Register(connType string, factory FactoryFunc) {
	Factories[connType] = factory
}

// New 按配置启动指定类型的接入通道
var New = func(ctx context.Context, ingest Ingest) (Connector, error) {
	config := pkg.ConfigFromContext(ctx)
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	pkg.LoggerFromContext(ctx).Debug("Connector Factory:", zap.Strings("Factories", factoryTypes))
	factory, ok := Factories[config.Connector.Type]
	if !ok {
		return nil, fmt.Errorf("未找到接入通道类型: %s", config.Connector.Type)
	}
	conn, err := factory(ctx, ingest)
	if err != nil {
		return nil, fmt.Errorf("初始化接入通道失败: %w", err)
	}
	return conn, nil
}
