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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"media-platform/internal/ratelimit"
	"media-platform/pkg/errors"
	"media-platform/pkg/metrics"
)

const (
	// DefaultWorkers 默认并发 worker 数
	DefaultWorkers = 3
	// DefaultPollInterval 队列空或限流无余量时的轮询间隔
	DefaultPollInterval = time.Second
	// limiterWaitCap worker 因限流等待的单次 sleep 上限
	limiterWaitCap = 10 * time.Second
)

// Handler 任务处理器。返回的 error 由调度器捕获并套用重试策略,
// handler 自身不做重试。
type Handler func(ctx context.Context, task *Task) (interface{}, error)

// Scheduler 固定大小的 worker 池。所有 worker 共享一个队列和一个限流器,
// 吞吐由准入控制决定, worker 数只限制在途任务数。
type Scheduler struct {
	queue   *Queue
	limiter *ratelimit.AdaptiveLimiter
	logger  *slog.Logger
	journal Journal // 可为 nil

	workers      int
	pollInterval time.Duration
	maxRetries   int

	mu       sync.Mutex
	handlers map[Kind]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// SchedulerOptions 调度器参数, 零值使用默认
type SchedulerOptions struct {
	Workers      int
	PollInterval time.Duration
	MaxRetries   int // Submit 未指定重试次数时的默认值
	Journal      Journal
}

// NewScheduler 创建调度器
func NewScheduler(queue *Queue, limiter *ratelimit.AdaptiveLimiter, logger *slog.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		queue:        queue,
		limiter:      limiter,
		logger:       logger,
		journal:      opts.Journal,
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		maxRetries:   opts.MaxRetries,
		handlers:     make(map[Kind]Handler),
	}
}

// RegisterHandler 注册任务种类的处理器
func (s *Scheduler) RegisterHandler(kind Kind, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
	s.logger.Info("task handler registered", "kind", kind)
}

// Submit 入队一个任务并记录日志。maxRetries < 0 时取调度器配置的默认值。
// journal 失败不阻塞入队。
func (s *Scheduler) Submit(ctx context.Context, payload Payload, priority Priority, maxRetries int) (*Task, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil, errors.ErrQueueStopped
	}

	if maxRetries < 0 {
		maxRetries = s.maxRetries
	}
	task := s.queue.Enqueue(payload, priority, maxRetries)
	if s.journal != nil {
		if err := s.journal.Record(ctx, task); err != nil {
			s.logger.Warn("task journal write failed", "task_id", task.ID, "error", err)
		}
	}
	s.logger.Info("task enqueued",
		"task_id", task.ID, "kind", task.Kind, "priority", task.Priority.String())
	return task, nil
}

// Start 启动 worker 池。若配置了 journal, 先回放上次未完成的任务。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	if s.journal != nil {
		if n, err := s.replayJournal(ctx); err != nil {
			s.logger.Warn("journal replay failed", "error", err)
		} else if n > 0 {
			s.logger.Info("journal tasks replayed", "count", n)
		}
	}

	s.logger.Info("starting workers", "count", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, fmt.Sprintf("worker-%d", i))
	}
	return nil
}

// Stop 优雅关停: 通知所有 worker 退出轮询, 等待在途任务返回,
// 然后把任何仍在 Processing 的任务标记为 Cancelled。
// 等待受 ctx 限制, 超时后同样执行清理。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("stopping workers")
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		s.logger.Warn("workers did not drain in time", "error", waitErr)
	}

	if n := s.queue.CancelProcessing(); n > 0 {
		s.logger.Warn("in-flight tasks cancelled on shutdown", "count", n)
		if s.journal != nil {
			s.syncCancelled(context.Background())
		}
	}
	s.logger.Info("all workers stopped")
	return waitErr
}

// worker 单个 worker 循环。handler 抛出的错误在这里套用重试策略,
// 绝不让异常终止循环。
func (s *Scheduler) worker(ctx context.Context, name string) {
	defer s.wg.Done()
	s.logger.Debug("worker started", "worker", name)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("worker exiting", "worker", name)
			return
		default:
		}

		// 限流无余量时不出队, 避免占着任务干等许可
		if st := s.limiter.Status(); st.Remaining == 0 {
			wait := time.Until(st.ResetAt)
			if wait > limiterWaitCap {
				wait = limiterWaitCap
			}
			if wait < time.Second {
				wait = time.Second
			}
			if !s.sleep(ctx, wait) {
				return
			}
			continue
		}

		task, ok := s.queue.Dequeue()
		if !ok {
			// 空队列: 等入队信号, 轮询间隔兜底
			select {
			case <-ctx.Done():
				return
			case <-s.queue.Wake():
			case <-time.After(s.pollInterval):
			}
			continue
		}

		s.execute(ctx, name, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, name string, task *Task) {
	s.logger.Info("task started",
		"worker", name, "task_id", task.ID, "kind", task.Kind, "attempt", task.RetryCount+1)
	s.journalStatus(ctx, task)

	s.mu.Lock()
	handler, ok := s.handlers[task.Kind]
	s.mu.Unlock()

	if !ok {
		err := fmt.Errorf("no handler registered for task kind %q", task.Kind)
		s.logger.Error("task failed permanently", "task_id", task.ID, "error", err)
		s.queue.FailPermanently(task, err)
		s.journalStatus(ctx, task)
		return
	}

	start := time.Now()
	result, err := s.invoke(ctx, handler, task)
	metrics.TaskDuration.WithLabelValues(string(task.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		if requeued := s.queue.RetryOrFail(task, err); requeued {
			s.logger.Warn("task retrying",
				"worker", name, "task_id", task.ID,
				"retry", task.RetryCount, "max_retries", task.MaxRetries, "error", err)
		} else {
			s.logger.Error("task failed",
				"worker", name, "task_id", task.ID, "error", err)
		}
		s.journalStatus(ctx, task)
		return
	}

	s.queue.Complete(task, result)
	s.journalStatus(ctx, task)
	s.logger.Info("task completed",
		"worker", name, "task_id", task.ID, "duration", time.Since(start))
}

// invoke 调用 handler 并把 panic 转成普通错误, worker 循环绝不因任务挂掉
func (s *Scheduler) invoke(ctx context.Context, handler Handler, task *Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

// sleep 可被 ctx 打断的等待; 返回 false 表示应退出
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) journalStatus(ctx context.Context, task *Task) {
	if s.journal == nil {
		return
	}
	view, ok := s.queue.StatusOf(task.ID)
	if !ok {
		return
	}
	if err := s.journal.UpdateStatus(ctx, view); err != nil {
		s.logger.Warn("task journal update failed", "task_id", task.ID, "error", err)
	}
}

// replayJournal 重启后把上次进程遗留的未完成任务重新入队
func (s *Scheduler) replayJournal(ctx context.Context) (int, error) {
	entries, err := s.journal.ReplayPending(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		task := s.queue.Enqueue(e.Payload, e.Priority, e.MaxRetries)
		if err := s.journal.Supersede(ctx, e.TaskID, task.ID); err != nil {
			s.logger.Warn("journal supersede failed", "task_id", e.TaskID, "error", err)
		}
	}
	return len(entries), nil
}

func (s *Scheduler) syncCancelled(ctx context.Context) {
	for _, task := range s.queue.snapshotByStatus(StatusCancelled) {
		if err := s.journal.UpdateStatus(ctx, task); err != nil {
			s.logger.Warn("task journal update failed", "task_id", task.TaskID, "error", err)
		}
	}
}
