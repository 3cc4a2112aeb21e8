package pkg

import (
	"time"

	"github.com/google/uuid"
)

// Severity 告警级别
type Severity int8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// ParseSeverity 从配置字符串解析级别，未识别按 info 处理
func ParseSeverity(s string) Severity {
	switch s {
	case "critical":
		return SeverityCritical
	case "warning":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertEvent 各环节产生的告警事件，追加式，经 notify 分发
type AlertEvent struct {
	ID       uuid.UUID `json:"id"`
	Severity Severity  `json:"severity"`
	Source   string    `json:"source"` // 来源模块名
	Message  string    `json:"message"`
	Ts       time.Time `json:"ts"`
}

// NewAlert 构造告警事件
func NewAlert(severity Severity, source, message string) AlertEvent {
	return AlertEvent{
		ID:       uuid.New(),
		Severity: severity,
		Source:   source,
		Message:  message,
		Ts:       time.Now(),
	}
}

// AlertTopic 事件总线上的告警主题名
const AlertTopic = "growgate:alerts"
