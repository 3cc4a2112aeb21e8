package pkg

import "errors"

// 控制引擎的错误分类。局部可恢复的错误（过期、不可达、投递失败）由各环节
// 自行降级处理，SafetyLimitBreach 与 InvalidProfile 必须上浮，不允许吞掉。
var (
	ErrSensorStale                = errors.New("sensor reading stale")
	ErrDeviceUnreachable          = errors.New("device unreachable")
	ErrInvalidProfile             = errors.New("invalid profile")
	ErrSafetyLimitBreach          = errors.New("safety hard limit breached")
	ErrDosingCeilingReached       = errors.New("dosing volume ceiling reached")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrNotFound                   = errors.New("not found")
)
