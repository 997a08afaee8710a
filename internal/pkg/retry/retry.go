package retry

import (
	"context"
	"math"
	"time"
)

// Policy 指数退避重试策略
type Policy struct {
	Attempts  int           // 总尝试次数（含首次）
	BaseDelay time.Duration // 第 n 次重试前等待 BaseDelay * 2^(n-1)
	MaxDelay  time.Duration
}

// Backoff 第 attempt 次重试（从 1 开始）前的等待时间
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do 执行 fn，retryable 返回 true 的错误会在退避后重试，直到用完次数。
// 返回最后一次错误以及实际尝试次数。
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(p.Backoff(attempt - 1)):
			}
		}

		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return attempt, err
		}
	}
	return attempts, err
}
