// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit 实现滑动窗口限流器，控制对外部 embedding 服务的调用频率。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"media-platform/pkg/metrics"
)

const (
	// DefaultMaxCalls 默认窗口内最大调用次数
	DefaultMaxCalls = 120
	// DefaultWindow 默认时间窗口
	DefaultWindow = 60 * time.Second

	// maxPollInterval 等待许可时单次 sleep 上限，保证取消及时生效
	maxPollInterval = 5 * time.Second
	minPollInterval = time.Second
)

// Status 限流器当前状态快照
type Status struct {
	Used      int           `json:"used"`      // 窗口内已用调用数
	Ceiling   int           `json:"ceiling"`   // 当前上限
	Remaining int           `json:"remaining"` // 剩余可用调用数
	Window    time.Duration `json:"window"`    // 窗口长度
	ResetAt   time.Time     `json:"reset_at"`  // 最早一次调用滑出窗口的时间
}

// Limiter 滑动窗口限流器。记录窗口内的调用时间戳,
// 检查与登记必须在同一把锁内完成，避免两个 worker 同时认为有余量。
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	ceiling int
	calls   []time.Time

	// notify 在上限被调高时广播，唤醒等待者提前重试
	notify chan struct{}

	// now 可注入时钟，便于测试
	now func() time.Time
}

// NewLimiter 创建限流器。maxCalls/window 非法时回落到默认值。
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		window:  window,
		ceiling: maxCalls,
		calls:   make([]time.Time, 0, maxCalls),
		notify:  make(chan struct{}),
		now:     time.Now,
	}
}

// TryAcquire 尝试获取一次调用许可（非阻塞）。
// 获得许可时当前时间被登记进窗口。
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.calls) >= l.ceiling {
		return false
	}
	l.calls = append(l.calls, now)
	metrics.RateLimitUsed.Set(float64(len(l.calls)))
	return true
}

// WaitUntilGranted 阻塞直到获得许可或 ctx 取消。
// 每次 sleep 不超过 maxPollInterval，ctx 取消在一个轮询间隔内生效。
func (l *Limiter) WaitUntilGranted(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}

		wait := l.estimateWait()
		if wait > maxPollInterval {
			wait = maxPollInterval
		}
		if wait < minPollInterval {
			wait = minPollInterval
		}

		l.mu.Lock()
		notify := l.notify
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Status 返回当前窗口状态
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	st := Status{
		Used:      len(l.calls),
		Ceiling:   l.ceiling,
		Remaining: l.ceiling - len(l.calls),
		Window:    l.window,
		ResetAt:   now,
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if len(l.calls) > 0 {
		st.ResetAt = l.calls[0].Add(l.window)
	}
	return st
}

// Ceiling 返回当前上限
func (l *Limiter) Ceiling() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceiling
}

// estimateWait 估算最早一个时间戳滑出窗口还需多久
func (l *Limiter) estimateWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.calls) == 0 {
		return minPollInterval
	}
	return l.window - l.now().Sub(l.calls[0])
}

// setCeiling 调整上限并上报指标；调高时唤醒等待者。
// 调用方负责 clamp。
func (l *Limiter) setCeiling(n int) {
	l.mu.Lock()
	raised := n > l.ceiling
	l.ceiling = n
	var notify chan struct{}
	if raised {
		notify = l.notify
		l.notify = make(chan struct{})
	}
	l.mu.Unlock()

	metrics.RateLimitCeiling.Set(float64(n))
	if notify != nil {
		close(notify)
	}
}

// prune 丢弃窗口之外的时间戳。调用方持锁。
func (l *Limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) > l.window {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}
