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
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-platform/pkg/metrics"
)

// DefaultMaxRetries 任务默认最大重试次数
const DefaultMaxRetries = 3

// Queue 进程内优先级任务队列。
// 高优先级先出, 同优先级按入队序号先进先出。
// 任务完成后保留在注册表里供状态查询, 不自动清退。
type Queue struct {
	mu      sync.Mutex
	pending taskHeap
	tasks   map[string]*Task
	seq     uint64

	// wake 入队信号, 容量 1, 供调度器代替纯轮询
	wake chan struct{}
}

// NewQueue 创建队列
func NewQueue() *Queue {
	return &Queue{
		tasks: make(map[string]*Task),
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue 创建任务并入队, 返回任务 ID。
// priority <= 0 时取该种类的默认优先级, maxRetries < 0 时取默认值。
func (q *Queue) Enqueue(payload Payload, priority Priority, maxRetries int) *Task {
	if priority <= 0 {
		priority = DefaultPriorityFor(payload.Kind())
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	task := &Task{
		ID:         uuid.New().String(),
		Kind:       payload.Kind(),
		Priority:   priority,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}

	q.mu.Lock()
	q.seq++
	task.seq = q.seq
	q.tasks[task.ID] = task
	heap.Push(&q.pending, task)
	q.mu.Unlock()

	metrics.QueuePending.WithLabelValues(priority.String()).Inc()
	q.signal()
	return task
}

// Dequeue 非阻塞取出最高优先级的就绪任务并标记 Processing。
// 取出与标记同锁完成, 一个任务同一时刻只被一个 worker 持有。
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return nil, false
	}
	task := heap.Pop(&q.pending).(*Task)
	task.Status = StatusProcessing
	metrics.QueuePending.WithLabelValues(task.Priority.String()).Dec()
	return task, true
}

// Complete 标记任务成功
func (q *Queue) Complete(task *Task, result interface{}) {
	q.mu.Lock()
	task.Status = StatusCompleted
	task.Result = result
	task.LastError = ""
	q.mu.Unlock()
	metrics.TaskTotal.WithLabelValues(string(StatusCompleted)).Inc()
}

// RetryOrFail 应用重试策略: retry_count 递增; 仍低于 max_retries 时以原
// 优先级重新入队(排到同级队尾), 到达 max_retries 的失败是终态 Failed,
// 保留最后一次错误。返回任务是否被重新入队。
func (q *Queue) RetryOrFail(task *Task, taskErr error) bool {
	q.mu.Lock()
	task.LastError = taskErr.Error()
	task.RetryCount++

	if task.RetryCount < task.MaxRetries {
		task.Status = StatusPending
		q.seq++
		task.seq = q.seq
		heap.Push(&q.pending, task)
		q.mu.Unlock()

		metrics.QueuePending.WithLabelValues(task.Priority.String()).Inc()
		metrics.TaskTotal.WithLabelValues("retried").Inc()
		q.signal()
		return true
	}

	if task.RetryCount > task.MaxRetries {
		task.RetryCount = task.MaxRetries
	}
	task.Status = StatusFailed
	q.mu.Unlock()
	metrics.TaskTotal.WithLabelValues(string(StatusFailed)).Inc()
	return false
}

// FailPermanently 跳过重试直接终态 Failed (如未注册的任务种类)
func (q *Queue) FailPermanently(task *Task, taskErr error) {
	q.mu.Lock()
	task.LastError = taskErr.Error()
	task.RetryCount = task.MaxRetries
	task.Status = StatusFailed
	q.mu.Unlock()
	metrics.TaskTotal.WithLabelValues(string(StatusFailed)).Inc()
}

// Cancel 将任务标记为 Cancelled。用于关停时清理在途任务。
func (q *Queue) Cancel(task *Task) {
	q.mu.Lock()
	task.Status = StatusCancelled
	q.mu.Unlock()
	metrics.TaskTotal.WithLabelValues(string(StatusCancelled)).Inc()
}

// CancelProcessing 把所有仍处于 Processing 的任务标记为 Cancelled,
// 返回清理数量。强制关停后任何任务都不得停留在 Processing。
func (q *Queue) CancelProcessing() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, task := range q.tasks {
		if task.Status == StatusProcessing {
			task.Status = StatusCancelled
			metrics.TaskTotal.WithLabelValues(string(StatusCancelled)).Inc()
			n++
		}
	}
	return n
}

// StatusOf 查询任务状态快照
func (q *Queue) StatusOf(taskID string) (View, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return View{}, false
	}
	return task.view(), true
}

// Stats 队列统计
type Stats struct {
	Total      int            `json:"total_tasks"`
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Cancelled  int            `json:"cancelled"`
	QueueSize  int            `json:"queue_size"`
	ByPriority map[string]int `json:"priority_distribution"`
}

// GetStats 汇总当前队列状态
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		Total:      len(q.tasks),
		QueueSize:  q.pending.Len(),
		ByPriority: make(map[string]int),
	}
	for _, p := range []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow} {
		st.ByPriority[p.String()] = 0
	}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			st.Pending++
			st.ByPriority[task.Priority.String()]++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// snapshotByStatus 返回处于指定状态的任务快照
func (q *Queue) snapshotByStatus(status Status) []View {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []View
	for _, task := range q.tasks {
		if task.Status == status {
			out = append(out, task.view())
		}
	}
	return out
}

// Wake 返回入队信号通道
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// taskHeap 最小堆: 优先级数值小者先, 同级按 seq 先进先出
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
