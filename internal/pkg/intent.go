package pkg

import (
	"fmt"
	"time"
)

// Priority 意图优先级，安全驱动高于舒适驱动
type Priority int

const (
	PriorityComfort Priority = iota
	PrioritySafety
)

func (p Priority) String() string {
	if p == PrioritySafety {
		return "safety"
	}
	return "comfort"
}

// ActuatorIntent 控制循环每个tick产出的执行器意图，只在本tick内有效，不持久化
type ActuatorIntent struct {
	Role     Role     `json:"role"`
	On       bool     `json:"on"`
	Level    float64  `json:"level"` // 0-100，可调光/调速设备用；开关设备忽略
	Pulse    time.Duration `json:"pulse,omitempty"` // >0 表示限时脉冲指令（配剂泵）
	Reason   string   `json:"reason"`
	Quantity Quantity `json:"quantity"` // 驱动该意图的量
	Priority Priority `json:"priority"`
	Ts       time.Time `json:"ts"`
}

func (in ActuatorIntent) String() string {
	state := "off"
	if in.On {
		state = "on"
	}
	return fmt.Sprintf("Intent(%s=%s, level=%.0f, reason=%q, prio=%s)",
		in.Role, state, in.Level, in.Reason, in.Priority)
}

// OffIntent 构造安全驱动的关断意图
func OffIntent(role Role, reason string) ActuatorIntent {
	return ActuatorIntent{
		Role:     role,
		On:       false,
		Reason:   reason,
		Priority: PrioritySafety,
		Ts:       time.Now(),
	}
}
