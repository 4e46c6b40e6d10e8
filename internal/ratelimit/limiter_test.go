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
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTryAcquire_CeilingEnforced(t *testing.T) {
	clk := newFakeClock()
	l := NewLimiter(3, 60*time.Second)
	l.now = clk.Now

	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("acquire beyond ceiling should fail")
	}

	// 窗口滑过后重新放行
	clk.Advance(61 * time.Second)
	if !l.TryAcquire() {
		t.Fatal("acquire after window slides should succeed")
	}
}

func TestTryAcquire_GrantsNeverExceedCeiling(t *testing.T) {
	clk := newFakeClock()
	l := NewLimiter(10, 60*time.Second)
	l.now = clk.Now

	granted := 0
	for i := 0; i < 200; i++ {
		if l.TryAcquire() {
			granted++
		}
		clk.Advance(100 * time.Millisecond)

		if st := l.Status(); st.Used > st.Ceiling {
			t.Fatalf("window holds %d calls, ceiling %d", st.Used, st.Ceiling)
		}
	}
	if granted == 0 {
		t.Fatal("expected some grants")
	}
}

func TestStatus(t *testing.T) {
	clk := newFakeClock()
	l := NewLimiter(5, 60*time.Second)
	l.now = clk.Now

	l.TryAcquire()
	l.TryAcquire()

	st := l.Status()
	if st.Used != 2 {
		t.Errorf("Used = %d, want 2", st.Used)
	}
	if st.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3", st.Remaining)
	}
	if st.Ceiling != 5 {
		t.Errorf("Ceiling = %d, want 5", st.Ceiling)
	}
	want := clk.Now().Add(60 * time.Second)
	if !st.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", st.ResetAt, want)
	}
}

func TestWaitUntilGranted_Immediate(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	if err := l.WaitUntilGranted(context.Background()); err != nil {
		t.Fatalf("WaitUntilGranted failed: %v", err)
	}
}

func TestWaitUntilGranted_CtxCancelled(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	if !l.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.WaitUntilGranted(ctx)
	if err == nil {
		t.Fatal("WaitUntilGranted should return ctx error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took %v, should honor ctx within one poll interval", elapsed)
	}
}

func TestWaitUntilGranted_WokenByCeilingRaise(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	if !l.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- l.WaitUntilGranted(ctx)
	}()

	// 给等待者一点时间进入 select, 然后调高上限触发广播
	time.Sleep(50 * time.Millisecond)
	l.setCeiling(2)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitUntilGranted after raise failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("waiter not woken by ceiling raise")
	}
}

func TestConcurrentAcquire(t *testing.T) {
	l := NewLimiter(50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 50 {
		t.Errorf("granted = %d, want exactly 50", granted)
	}
}
