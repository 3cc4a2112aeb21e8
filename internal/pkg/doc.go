/*
Package pkg 包含了项目的公共类部分。具体地：

config.go -- 统一定义了所有配置的加载项，便于使用

logger.go -- 配置logger项

以下项因为在多个模块共用，故放置在此包中

snapshot.go -- 房间状态快照模型与发布-交换式持有者

reading.go -- 物理量与传感器读数模型

intent.go -- 执行器意图模型

role.go -- 设备角色、能力与运行模式

alert.go -- 告警事件模型
*/
package pkg
