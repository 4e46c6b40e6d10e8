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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"media-platform/internal/api/http"
	"media-platform/internal/api/http/middleware"
	"media-platform/internal/app"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用。装配 HTTP Router、Handler、Middleware,
// 业务组件全部来自 Bootstrap。
type App struct {
	bootstrap    *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) *App {
	handler := http.NewHandler(
		bootstrap.Scheduler,
		bootstrap.Queue,
		bootstrap.Limiter,
		bootstrap.MediaService,
		bootstrap.SearchEngine,
	)
	mw := middleware.NewMiddleware(bootstrap.Config.API.CORS.AllowOrigins)

	routerOpts := http.RouterOptions{
		EnableCORS: bootstrap.Config.API.CORS.Enable,
	}
	if bootstrap.Config.API.Middleware.RateLimit {
		routerOpts.RateLimitRPS = bootstrap.Config.API.Middleware.RateLimitRPS
	}
	router := http.NewRouter(handler, mw, routerOpts)

	return &App{bootstrap: bootstrap, router: router}
}

// Run 启动调度器与 HTTP 服务, addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)

	// Hertz 日志走 slog 扩展, 与 bootstrap 日志配置对齐
	output := os.Stdout
	if file := a.bootstrap.Config.Log.File; file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	switch a.bootstrap.Config.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 可选：启用链路追踪（OpenTelemetry）
	tracingCfg := a.bootstrap.Config.Monitoring.Tracing
	if tracingCfg.Enable {
		serviceName := tracingCfg.ServiceName
		if serviceName == "" {
			serviceName = "media-api"
		}
		exportEndpoint := tracingCfg.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if tracingCfg.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
			tracerOpt, cfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(cfg))
			a.bootstrap.Logger.Info("链路追踪已启用",
				"service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	if err := a.bootstrap.Scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("启动任务调度器失败: %w", err)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭。先停 HTTP 入口, 再停调度器,
// 调度器会把未完成的任务标记为 cancelled。
func (a *App) Shutdown(ctx context.Context) error {
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			a.bootstrap.Logger.Warn("关闭 HTTP 服务失败", "error", err)
		}
	}
	if err := a.bootstrap.Scheduler.Stop(ctx); err != nil {
		a.bootstrap.Logger.Warn("停止调度器超时", "error", err)
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	a.bootstrap.Close()
	return nil
}
