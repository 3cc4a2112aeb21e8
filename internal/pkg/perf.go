package pkg

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PerformanceMetrics 存储性能指标数据
type PerformanceMetrics struct {
	// 系统指标
	StartTime      time.Time
	GoroutineCount int64

	// 应用指标
	ErrorCount     int64
	ProcessingTime int64 // 纳秒
	ProcessedItems int64

	// 消息处理指标 - 使用原子操作或细粒度锁替代全局锁
	msgStats *concurrentMsgStats
}

// concurrentMsgStats 使用分离锁保护不同类型的消息统计
type concurrentMsgStats struct {
	received  sync.Map // string -> *int64
	processed sync.Map // string -> *int64
	errors    sync.Map // string -> *int64
}

// 全局性能指标实例
var (
	perfMetrics *PerformanceMetrics
	perfOnce    sync.Once
)

// GetPerformanceMetrics 返回性能指标实例
func GetPerformanceMetrics() *PerformanceMetrics {
	perfOnce.Do(func() {
		perfMetrics = &PerformanceMetrics{
			StartTime: time.Now(),
			msgStats:  &concurrentMsgStats{},
		}
		// 开始定期收集系统指标
		go perfMetrics.collectSystemMetrics()
	})
	return perfMetrics
}

// collectSystemMetrics 定期收集系统指标
func (pm *PerformanceMetrics) collectSystemMetrics() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		atomic.StoreInt64(&pm.GoroutineCount, int64(runtime.NumGoroutine()))
	}
}

// IncErrorCount 增加错误计数并返回当前值
func (pm *PerformanceMetrics) IncErrorCount() int64 {
	return atomic.AddInt64(&pm.ErrorCount, 1)
}

// 从sync.Map中获取计数器，如果不存在则创建
func getOrCreateCounter(m *sync.Map, key string) *int64 {
	if val, ok := m.Load(key); ok {
		return val.(*int64)
	}
	counter := new(int64)
	if actual, loaded := m.LoadOrStore(key, counter); loaded {
		return actual.(*int64)
	}
	return counter
}

// IncMsgReceived 增加特定类型的接收消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgReceived(msgType string) int64 {
	counter := getOrCreateCounter(&pm.msgStats.received, msgType)
	return atomic.AddInt64(counter, 1)
}

// IncMsgProcessed 增加特定类型的处理消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgProcessed(msgType string) int64 {
	counter := getOrCreateCounter(&pm.msgStats.processed, msgType)
	return atomic.AddInt64(counter, 1)
}

// IncMsgErrors 增加特定类型的错误消息计数并返回当前值
func (pm *PerformanceMetrics) IncMsgErrors(msgType string) int64 {
	counter := getOrCreateCounter(&pm.msgStats.errors, msgType)
	return atomic.AddInt64(counter, 1)
}

// GetMsgCount 获取特定类型的消息计数
func (pm *PerformanceMetrics) GetMsgCount(msgType string, statsType string) int64 {
	var m *sync.Map
	switch statsType {
	case "received":
		m = &pm.msgStats.received
	case "processed":
		m = &pm.msgStats.processed
	case "errors":
		m = &pm.msgStats.errors
	default:
		return 0
	}
	if val, ok := m.Load(msgType); ok {
		return atomic.LoadInt64(val.(*int64))
	}
	return 0
}

// Timer 简单的耗时计时器
type Timer struct {
	name  string
	start time.Time
	pm    *PerformanceMetrics
}

// NewTimer 创建计时器
func (pm *PerformanceMetrics) NewTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now(), pm: pm}
}

// Stop 停止计时并累计处理时间
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	atomic.AddInt64(&t.pm.ProcessingTime, int64(d))
	atomic.AddInt64(&t.pm.ProcessedItems, 1)
	return d
}

// StopAndLog 停止计时并以 Debug 级别记录耗时
func (t *Timer) StopAndLog(logger *zap.Logger) time.Duration {
	d := t.Stop()
	logger.Debug("耗时统计", zap.String("timer", t.name), zap.Duration("duration", d))
	return d
}
