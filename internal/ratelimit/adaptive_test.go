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
	"testing"
	"time"
)

func newTestAdaptive(maxCalls, minCalls int) (*AdaptiveLimiter, *fakeClock) {
	clk := newFakeClock()
	a := NewAdaptiveLimiter(maxCalls, 60*time.Second, minCalls, nil)
	a.Limiter.now = clk.Now
	a.lastAdjust = clk.Now()
	return a, clk
}

func TestAdaptive_ThrottleCutsImmediately(t *testing.T) {
	a, _ := newTestAdaptive(120, 60)

	a.RecordError(true)
	if got := a.Ceiling(); got != 96 {
		t.Errorf("ceiling after first throttle = %d, want 96", got)
	}
	a.RecordError(true)
	if got := a.Ceiling(); got != 76 {
		t.Errorf("ceiling after second throttle = %d, want 76", got)
	}
}

func TestAdaptive_ThrottleFlooredAtMin(t *testing.T) {
	a, _ := newTestAdaptive(120, 60)

	prev := a.Ceiling()
	for i := 0; i < 20; i++ {
		a.RecordError(true)
		cur := a.Ceiling()
		if cur > prev {
			t.Fatalf("ceiling rose from %d to %d within the same interval", prev, cur)
		}
		if cur < 60 {
			t.Fatalf("ceiling %d dropped below floor 60", cur)
		}
		prev = cur
	}
	if prev != 60 {
		t.Errorf("ceiling after sustained throttling = %d, want floor 60", prev)
	}
}

func TestAdaptive_NonThrottledErrorDoesNotCut(t *testing.T) {
	a, _ := newTestAdaptive(120, 60)

	a.RecordError(false)
	if got := a.Ceiling(); got != 120 {
		t.Errorf("ceiling after non-throttle error = %d, want 120", got)
	}
}

func TestAdaptive_RaiseOnLowErrorRate(t *testing.T) {
	a, clk := newTestAdaptive(120, 60)

	a.RecordError(true) // 120 -> 96
	a.RecordError(true) // 96 -> 76
	if got := a.Ceiling(); got != 76 {
		t.Fatalf("ceiling = %d, want 76", got)
	}

	// 间隔内积累大量成功样本, 把错误率压到 5% 以下,
	// 推进时钟后下一次上报触发评估
	for i := 0; i < 39; i++ {
		a.RecordSuccess()
	}
	clk.Advance(61 * time.Second)
	a.RecordSuccess() // 2 errors / 42 total ≈ 4.8%

	if got := a.Ceiling(); got != 83 { // 76 * 1.1
		t.Errorf("ceiling after low-error interval = %d, want 83", got)
	}
}

func TestAdaptive_RaiseCappedAtOriginal(t *testing.T) {
	a, clk := newTestAdaptive(120, 60)

	a.RecordError(true) // 120 -> 96

	for round := 0; round < 10; round++ {
		clk.Advance(61 * time.Second)
		for i := 0; i < 20; i++ {
			a.RecordSuccess()
		}
		if got := a.Ceiling(); got > 120 {
			t.Fatalf("ceiling %d exceeded original 120", got)
		}
	}
	if got := a.Ceiling(); got != 120 {
		t.Errorf("ceiling after recovery = %d, want 120", got)
	}
}

func TestAdaptive_LowerOnHighErrorRate(t *testing.T) {
	a, clk := newTestAdaptive(120, 60)

	// 间隔内积累 16 成功 + 4 非限流错误, 无即时下调;
	// 推进时钟后由最后一次上报触发评估, 错误率 4/21 ≈ 19%
	for i := 0; i < 16; i++ {
		a.RecordSuccess()
	}
	for i := 0; i < 4; i++ {
		a.RecordError(false)
	}
	if got := a.Ceiling(); got != 120 {
		t.Fatalf("non-throttle errors must not cut immediately, ceiling = %d", got)
	}

	clk.Advance(61 * time.Second)
	a.RecordSuccess()

	if got := a.Ceiling(); got != 108 { // 120 * 0.9
		t.Errorf("ceiling after high-error interval = %d, want 108", got)
	}
}

func TestAdaptive_TooFewSamplesNoAdjust(t *testing.T) {
	a, clk := newTestAdaptive(120, 60)

	a.RecordError(true) // 120 -> 96
	clk.Advance(61 * time.Second)
	for i := 0; i < 5; i++ {
		a.RecordSuccess()
	}

	if got := a.Ceiling(); got != 96 {
		t.Errorf("ceiling adjusted to %d with under 10 samples, want 96", got)
	}
}
