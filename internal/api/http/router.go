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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"media-platform/internal/api/http/middleware"
)

// RouterOptions 路由装配开关, 来自 API 配置
type RouterOptions struct {
	EnableCORS   bool
	RateLimitRPS int // <=0 关闭 HTTP 入口限流
}

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	opts       RouterOptions
}

// NewRouter 创建 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware, opts RouterOptions) *Router {
	return &Router{handler: handler, middleware: mw, opts: opts}
}

// Build 创建 Hertz server 并注册全部路由。
// opts 供调用方追加 server 选项, 如链路追踪。
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	serverOpts := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(serverOpts...)

	if r.opts.EnableCORS {
		h.Use(r.middleware.CORS())
	}
	if r.opts.RateLimitRPS > 0 {
		h.Use(r.middleware.RateLimit(r.opts.RateLimitRPS))
	}

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)

	media := api.Group("/media")
	{
		media.POST("", r.handler.UploadMedia)
		media.GET("/stats", r.handler.MediaStats)
		media.PUT("/:id/description", r.handler.UpdateDescription)
		media.DELETE("/:id", r.handler.DeleteMedia)
	}

	searchGroup := api.Group("/search")
	{
		searchGroup.GET("", r.handler.Search)
		searchGroup.POST("/tasks", r.handler.SubmitSearch)
	}

	api.GET("/tasks/:id", r.handler.GetTask)
	api.GET("/queue/stats", r.handler.QueueStats)

	return h
}
