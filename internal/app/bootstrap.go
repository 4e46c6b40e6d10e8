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

package app

import (
	"context"
	"fmt"
	"time"

	"media-platform/internal/embedding"
	"media-platform/internal/media"
	"media-platform/internal/provider"
	"media-platform/internal/ratelimit"
	"media-platform/internal/search"
	"media-platform/internal/storage/cache"
	"media-platform/internal/storage/vector"
	"media-platform/internal/taskqueue"
	"media-platform/pkg/config"
	"media-platform/pkg/log"
	"media-platform/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内写业务装配
type Bootstrap struct {
	Config       *config.Config
	Logger       *log.Logger
	Secrets      secrets.Store
	Provider     provider.Client
	Limiter      *ratelimit.AdaptiveLimiter
	Cache        cache.Store
	VectorStore  vector.Store
	Orchestrator *embedding.Orchestrator
	Queue        *taskqueue.Queue
	Scheduler    *taskqueue.Scheduler
	MediaService *media.Service
	SearchEngine *search.Engine

	journal taskqueue.Journal
}

// NewBootstrap 根据配置装配全部组件并注册任务处理器。
// 依赖显式传递，不使用包级全局。
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	secretStore, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Options:  cfg.Secrets.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store 失败: %w", err)
	}

	// api key 支持 secret:// 引用与 ${ENV} 展开后的直接值
	apiKey, err := secrets.Resolve(ctx, secretStore, cfg.Embedding.APIKey)
	if err != nil {
		return nil, fmt.Errorf("解析 embedding api key 失败: %w", err)
	}

	providerClient, err := newProviderClient(cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("初始化 embedding provider 失败: %w", err)
	}

	limiter := newLimiter(cfg, logger)

	var cacheStore cache.Store
	if cfg.Storage.Cache.Type != "" {
		cacheStore, err = cache.NewCache(ctx, cfg.Storage.Cache)
		if err != nil {
			return nil, fmt.Errorf("初始化 embedding 缓存失败: %w", err)
		}
	}

	vectorStore, err := vector.NewStore(cfg.Storage.Vector)
	if err != nil {
		return nil, fmt.Errorf("初始化向量存储失败: %w", err)
	}

	orch := embedding.NewOrchestrator(providerClient, limiter, cacheStore, logger.Logger, embedding.Options{
		MaxRetries:     cfg.Embedding.MaxRetries,
		RetryBaseDelay: parseDuration(cfg.Embedding.RetryBaseDelay, 0),
		InterCallPause: parseDuration(cfg.Embedding.InterCallPause, 0),
		MaxImageBytes:  cfg.Embedding.MaxImageBytes,
		CacheTTL:       parseDuration(cfg.Storage.Cache.TTL, 0),
	})

	mediaService := media.NewService(orch, vectorStore, logger.Logger)
	if err := mediaService.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("初始化向量集合失败: %w", err)
	}

	searchEngine := search.NewEngine(orch, vectorStore, logger.Logger, search.Options{
		ScoreThreshold: float32(cfg.Search.ScoreThreshold),
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxLimit:       cfg.Search.MaxLimit,
	})

	var journal taskqueue.Journal
	if cfg.Queue.Journal.Type == "postgres" {
		journal, err = taskqueue.NewPostgresJournal(ctx, cfg.Queue.Journal.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化任务 journal 失败: %w", err)
		}
	}

	queue := taskqueue.NewQueue()
	scheduler := taskqueue.NewScheduler(queue, limiter, logger.Logger, taskqueue.SchedulerOptions{
		Workers:      cfg.Queue.Workers,
		PollInterval: parseDuration(cfg.Queue.PollInterval, 0),
		MaxRetries:   cfg.Queue.MaxRetries,
		Journal:      journal,
	})
	RegisterTaskHandlers(scheduler, mediaService, searchEngine)

	return &Bootstrap{
		Config:       cfg,
		Logger:       logger,
		Secrets:      secretStore,
		Provider:     providerClient,
		Limiter:      limiter,
		Cache:        cacheStore,
		VectorStore:  vectorStore,
		Orchestrator: orch,
		Queue:        queue,
		Scheduler:    scheduler,
		MediaService: mediaService,
		SearchEngine: searchEngine,
		journal:      journal,
	}, nil
}

// Close 逆序释放资源。调用方先 Stop Scheduler 再 Close。
func (b *Bootstrap) Close() {
	if b.journal != nil {
		b.journal.Close()
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			b.Logger.Warn("关闭缓存失败", "error", err)
		}
	}
	if b.VectorStore != nil {
		if err := b.VectorStore.Close(); err != nil {
			b.Logger.Warn("关闭向量存储失败", "error", err)
		}
	}
}

func newProviderClient(cfg *config.Config, apiKey string) (provider.Client, error) {
	switch cfg.Embedding.Provider {
	case "", "dashscope":
		return provider.NewDashScopeClient(provider.DashScopeConfig{
			APIKey:    apiKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   parseDuration(cfg.Embedding.Timeout, 0),
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

// newLimiter 创建自适应限流器。adaptive 关闭时把下限钉在上限,
// 窗口配额仍然生效但上限不再随错误率移动。
func newLimiter(cfg *config.Config, logger *log.Logger) *ratelimit.AdaptiveLimiter {
	maxCalls := cfg.RateLimit.MaxCalls
	if maxCalls <= 0 {
		maxCalls = ratelimit.DefaultMaxCalls
	}
	window := parseDuration(cfg.RateLimit.Window, ratelimit.DefaultWindow)
	minCalls := cfg.RateLimit.MinCalls
	if !cfg.RateLimit.Adaptive {
		minCalls = maxCalls
	}

	limiter := ratelimit.NewAdaptiveLimiter(maxCalls, window, minCalls, logger.Logger)
	if d := parseDuration(cfg.RateLimit.AdjustInterval, 0); d > 0 {
		limiter.SetAdjustInterval(d)
	}
	return limiter
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
