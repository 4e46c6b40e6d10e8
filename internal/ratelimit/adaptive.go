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

package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMinCalls 自适应调整时的上限下界
	DefaultMinCalls = 60
	// DefaultAdjustInterval 周期性调整的最小间隔
	DefaultAdjustInterval = time.Minute

	// 周期调整的样本下限与错误率水位
	minAdjustSamples  = 10
	lowErrorRate      = 0.05
	highErrorRate     = 0.15
	throttleCutFactor = 0.8
	raiseFactor       = 1.1
	lowerFactor       = 0.9
)

// AdaptiveLimiter 在滑动窗口限流之上按观测到的错误率动态调整上限。
// 限流类错误立即按 throttleCutFactor 下调；其余按周期根据错误率微调，
// 上限始终 clamp 在 [minCalls, originalCeiling] 区间，避免单次错误引起震荡。
type AdaptiveLimiter struct {
	*Limiter

	logger *slog.Logger

	mu             sync.Mutex
	original       int
	minCalls       int
	adjustInterval time.Duration
	successCount   int
	errorCount     int
	lastAdjust     time.Time
}

// NewAdaptiveLimiter 创建自适应限流器
func NewAdaptiveLimiter(maxCalls int, window time.Duration, minCalls int, logger *slog.Logger) *AdaptiveLimiter {
	base := NewLimiter(maxCalls, window)
	if minCalls <= 0 {
		minCalls = DefaultMinCalls
	}
	if minCalls > base.Ceiling() {
		minCalls = base.Ceiling()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptiveLimiter{
		Limiter:        base,
		logger:         logger,
		original:       base.Ceiling(),
		minCalls:       minCalls,
		adjustInterval: DefaultAdjustInterval,
		lastAdjust:     base.now(),
	}
}

// RecordSuccess 记录一次成功调用
func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	a.successCount++
	a.mu.Unlock()
	a.maybeAdjust()
}

// RecordError 记录一次失败调用。throttled 表示对端返回了限流类错误,
// 此时立即下调上限，不等周期调整。
func (a *AdaptiveLimiter) RecordError(throttled bool) {
	a.mu.Lock()
	a.errorCount++
	a.mu.Unlock()

	if throttled {
		cur := a.Ceiling()
		next := int(float64(cur) * throttleCutFactor)
		if next < a.minCalls {
			next = a.minCalls
		}
		if next != cur {
			a.logger.Warn("provider throttling detected, cutting call ceiling",
				"from", cur, "to", next)
			a.setCeiling(next)
		}
	}
	a.maybeAdjust()
}

// maybeAdjust 周期性地根据错误率微调上限。
// 间隔未到或样本不足则什么都不做，计数器只在实际评估后清零。
func (a *AdaptiveLimiter) maybeAdjust() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.Limiter.now()
	if now.Sub(a.lastAdjust) < a.adjustInterval {
		return
	}
	total := a.successCount + a.errorCount
	if total < minAdjustSamples {
		return
	}

	errorRate := float64(a.errorCount) / float64(total)
	cur := a.Ceiling()
	next := cur
	switch {
	case errorRate < lowErrorRate:
		next = int(float64(cur) * raiseFactor)
		if next > a.original {
			next = a.original
		}
	case errorRate > highErrorRate:
		next = int(float64(cur) * lowerFactor)
		if next < a.minCalls {
			next = a.minCalls
		}
	}

	if next != cur {
		a.logger.Info("adjusting call ceiling by error rate",
			"error_rate", errorRate, "from", cur, "to", next)
		a.setCeiling(next)
	}

	a.successCount = 0
	a.errorCount = 0
	a.lastAdjust = now
}

// SetAdjustInterval 覆盖周期调整间隔（主要用于配置注入）
func (a *AdaptiveLimiter) SetAdjustInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.adjustInterval = d
	a.mu.Unlock()
}
