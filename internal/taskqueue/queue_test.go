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

package taskqueue

import (
	"errors"
	"testing"
)

func upload(id string) UploadPayload {
	return UploadPayload{MediaID: id, FilePath: "/media/" + id + ".jpg"}
}

func TestDequeueOrder(t *testing.T) {
	q := NewQueue()

	// 提交顺序 [LOW, HIGH, NORMAL, HIGH], 期望出队 [HIGH1, HIGH2, NORMAL, LOW]
	low := q.Enqueue(upload("low"), PriorityLow, -1)
	high1 := q.Enqueue(upload("high1"), PriorityHigh, -1)
	normal := q.Enqueue(upload("normal"), PriorityNormal, -1)
	high2 := q.Enqueue(upload("high2"), PriorityHigh, -1)

	want := []string{high1.ID, high2.ID, normal.ID, low.ID}
	for i, id := range want {
		task, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue unexpectedly empty", i)
		}
		if task.ID != id {
			t.Fatalf("dequeue %d = %s, want %s", i, task.Payload.(UploadPayload).MediaID, id)
		}
		if task.Status != StatusProcessing {
			t.Errorf("dequeued task status = %s, want processing", task.Status)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("queue should be empty")
	}
}

func TestDequeue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue()

	var ids []string
	for i := 0; i < 5; i++ {
		task := q.Enqueue(upload(string(rune('a'+i))), PriorityNormal, -1)
		ids = append(ids, task.ID)
	}
	for i, id := range ids {
		task, _ := q.Dequeue()
		if task.ID != id {
			t.Fatalf("dequeue %d out of submission order", i)
		}
	}
}

func TestRetry_RequeuesAtBackOfTier(t *testing.T) {
	q := NewQueue()

	a := q.Enqueue(upload("a"), PriorityNormal, 3)
	b := q.Enqueue(upload("b"), PriorityNormal, 3)

	got, _ := q.Dequeue()
	if got.ID != a.ID {
		t.Fatal("a should dequeue first")
	}
	if !q.RetryOrFail(a, errors.New("transient")) {
		t.Fatal("first failure should requeue")
	}

	// 重试后 a 应排在 b 之后
	next, _ := q.Dequeue()
	if next.ID != b.ID {
		t.Errorf("retried task must re-enter at the back of its tier")
	}
	next, _ = q.Dequeue()
	if next.ID != a.ID {
		t.Errorf("retried task should come after the rest of its tier")
	}
}

func TestRetryOrFail_TerminalAtMaxRetries(t *testing.T) {
	q := NewQueue()
	task := q.Enqueue(upload("x"), PriorityNormal, 3)

	fails := 0
	for {
		got, ok := q.Dequeue()
		if !ok {
			break
		}
		fails++
		q.RetryOrFail(got, errors.New("boom"))
	}

	if fails != 3 {
		t.Errorf("task executed %d times, want 3", fails)
	}
	view, _ := q.StatusOf(task.ID)
	if view.Status != StatusFailed {
		t.Errorf("status = %s, want failed", view.Status)
	}
	if view.RetryCount > view.MaxRetries {
		t.Errorf("retry_count %d exceeds max_retries %d", view.RetryCount, view.MaxRetries)
	}
	if view.Error == "" {
		t.Error("terminal failure must retain the last error")
	}
}

func TestStatusOf(t *testing.T) {
	q := NewQueue()
	task := q.Enqueue(DescriptionUpdatePayload{MediaID: "m1", NewDescription: "new"}, 0, -1)

	view, ok := q.StatusOf(task.ID)
	if !ok {
		t.Fatal("task should be queryable")
	}
	if view.Status != StatusPending {
		t.Errorf("status = %s, want pending", view.Status)
	}
	if view.Priority != "HIGH" {
		t.Errorf("description update default priority = %s, want HIGH", view.Priority)
	}
	if view.MaxRetries != DefaultMaxRetries {
		t.Errorf("max_retries = %d, want default %d", view.MaxRetries, DefaultMaxRetries)
	}

	if _, ok := q.StatusOf("no-such-task"); ok {
		t.Error("unknown id should not resolve")
	}
}

func TestStatusOf_RetainedAfterTerminal(t *testing.T) {
	q := NewQueue()
	task := q.Enqueue(upload("keep"), PriorityNormal, 1)

	got, _ := q.Dequeue()
	q.RetryOrFail(got, errors.New("permanent trouble"))

	view, ok := q.StatusOf(task.ID)
	if !ok {
		t.Fatal("terminal task must stay queryable")
	}
	if view.Status != StatusFailed || view.Error == "" {
		t.Errorf("view = %+v, want failed with error retained", view)
	}
}

func TestGetStats(t *testing.T) {
	q := NewQueue()
	q.Enqueue(upload("a"), PriorityNormal, -1)
	q.Enqueue(upload("b"), PriorityHigh, -1)
	q.Enqueue(upload("c"), PriorityHigh, -1)

	done, _ := q.Dequeue() // HIGH b
	q.Complete(done, nil)

	st := q.GetStats()
	if st.Total != 3 {
		t.Errorf("total = %d, want 3", st.Total)
	}
	if st.Pending != 2 || st.QueueSize != 2 {
		t.Errorf("pending = %d queue_size = %d, want 2/2", st.Pending, st.QueueSize)
	}
	if st.Completed != 1 {
		t.Errorf("completed = %d, want 1", st.Completed)
	}
	if st.ByPriority["HIGH"] != 1 || st.ByPriority["NORMAL"] != 1 {
		t.Errorf("priority distribution = %v", st.ByPriority)
	}
}

func TestCancelProcessing(t *testing.T) {
	q := NewQueue()
	q.Enqueue(upload("a"), PriorityNormal, -1)
	q.Enqueue(upload("b"), PriorityNormal, -1)

	q.Dequeue()
	q.Dequeue()

	if n := q.CancelProcessing(); n != 2 {
		t.Errorf("cancelled %d tasks, want 2", n)
	}
	st := q.GetStats()
	if st.Processing != 0 {
		t.Errorf("processing = %d after cancel, want 0", st.Processing)
	}
	if st.Cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", st.Cancelled)
	}
}
