package datapush

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 重试参数
const (
	RETRY_TIMES    = 3
	RETRY_INTERVAL = 2 * time.Second
	MAX_RETRY_WAIT = 30 * time.Second
)

// ErrNotifyFailure 通知渠道拒绝或发送超时
var ErrNotifyFailure = errors.New("发送通知失败")

// Notifier 把一条文本消息发送到指定目标
type Notifier interface {
	// Name 渠道名称，用于日志和指标
	Name() string
	// Send 发送消息。返回的错误均包装了 ErrNotifyFailure。
	Send(ctx context.Context, destination, text string) error
}

// retryableError 标记可以重试的错误，after 为服务端要求的等待时间
type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// retryable 包装可重试的错误
func retryable(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, after: after}
}

// retry 重试函数，只有标记为可重试的错误才会再次执行 fn
func retry(ctx context.Context, fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		if i == times-1 {
			break
		}

		wait := interval
		if re.after > 0 {
			wait = re.after
		}
		if wait > MAX_RETRY_WAIT {
			wait = MAX_RETRY_WAIT
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("等待重试时取消: %w (上次错误: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}

// failure 统一包装为 ErrNotifyFailure
func failure(channel string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrNotifyFailure, channel, err)
}
