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

// Package worker 独立 worker 进程。不开 HTTP 入口,
// 从任务 journal 回放 pending 任务并持续执行, 需要 postgres journal 配置。
package worker

import (
	"context"
	"fmt"

	"media-platform/internal/app"
)

// App Worker 应用
type App struct {
	bootstrap *app.Bootstrap
}

// NewApp 创建 Worker 应用（由 cmd/worker 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap.Config.Queue.Journal.Type != "postgres" {
		return nil, fmt.Errorf("worker 进程需要 queue.journal.type=postgres, 否则拿不到 API 进程的任务")
	}
	return &App{bootstrap: bootstrap}, nil
}

// Run 启动调度器并阻塞到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	a.bootstrap.Logger.Info("Worker 服务启动",
		"workers", a.bootstrap.Config.Queue.Workers)
	if err := a.bootstrap.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("启动任务调度器失败: %w", err)
	}
	<-ctx.Done()
	return nil
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.bootstrap.Scheduler.Stop(ctx); err != nil {
		a.bootstrap.Logger.Warn("停止调度器超时", "error", err)
	}
	a.bootstrap.Close()
	return nil
}
