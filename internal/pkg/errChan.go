package pkg

import (
	"context"
	"sync"
)

// 定义一个不导出的 key 类型，避免 context key 冲突
type errChanKey struct{}

// WithErrChan 将全局错误通道存入 context 中
func WithErrChan(ctx context.Context, errChan chan error) context.Context {
	return context.WithValue(ctx, errChanKey{}, errChan)
}

var (
	discardOnce sync.Once
	discardChan chan error
)

// ErrChanFromContext 从 context 中提取错误通道。
// 未注入时返回持续排空的兜底通道，发送端永不阻塞，错误被静默丢弃
func ErrChanFromContext(ctx context.Context) chan<- error {
	if errChan, ok := ctx.Value(errChanKey{}).(chan error); ok {
		return errChan
	}
	discardOnce.Do(func() {
		discardChan = make(chan error, 16)
		go func() {
			for range discardChan {
			}
		}()
	})
	return discardChan
}
