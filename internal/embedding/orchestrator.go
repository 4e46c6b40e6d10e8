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

// Package embedding 编排对外部向量化服务的调用:
// 限流准入、瞬态错误重试、空内容零向量占位、文本图像串行化。
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-platform/internal/provider"
	"media-platform/internal/ratelimit"
	"media-platform/internal/storage/cache"
	"media-platform/pkg/metrics"
)

const (
	// DefaultMaxRetries 瞬态错误最大尝试次数
	DefaultMaxRetries = 3
	// DefaultRetryBaseDelay 指数退避基础延迟 (2s, 4s, 8s)
	DefaultRetryBaseDelay = 2 * time.Second
	// DefaultInterCallPause 同一媒体的文本与图像调用之间的固定间隔
	DefaultInterCallPause = 500 * time.Millisecond
	// DefaultMaxImageBytes 图像载荷硬上限, 超过直接拒绝不发请求
	DefaultMaxImageBytes = 8 << 20
)

// Result 一次向量化的结果
type Result struct {
	Vector      []float32 `json:"vector"`
	Placeholder bool      `json:"placeholder"` // 空内容零向量, 合法状态而非失败
	Cached      bool      `json:"cached"`
	RequestID   string    `json:"request_id,omitempty"`
	Attempts    int       `json:"attempts"`
}

// MediaResult 一个媒体条目的双模态向量化结果
type MediaResult struct {
	Text   *Result  `json:"text"`
	Image  *Result  `json:"image"`
	Errors []string `json:"errors,omitempty"`
}

// Options 编排器可调参数, 零值使用默认
type Options struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	InterCallPause time.Duration
	MaxImageBytes  int64
	CacheTTL       time.Duration
}

// Orchestrator 向量化编排器。所有外部调用先经过限流器准入,
// 调用结果回报给自适应限流器。
type Orchestrator struct {
	client  provider.Client
	limiter *ratelimit.AdaptiveLimiter
	cache   cache.Store // 可为 nil
	logger  *slog.Logger
	opts    Options
}

// NewOrchestrator 创建编排器。cache 传 nil 时关闭向量缓存。
func NewOrchestrator(client provider.Client, limiter *ratelimit.AdaptiveLimiter, store cache.Store, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.InterCallPause <= 0 {
		opts.InterCallPause = DefaultInterCallPause
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:  client,
		limiter: limiter,
		cache:   store,
		logger:  logger,
		opts:    opts,
	}
}

// Dimension 返回向量维度
func (o *Orchestrator) Dimension() int {
	return o.client.Dimension()
}

// ZeroVector 返回配置维度的零向量
func (o *Orchestrator) ZeroVector() []float32 {
	return make([]float32, o.client.Dimension())
}

// EmbedText 文本向量化。空白文本返回占位零向量, 不消耗配额。
func (o *Orchestrator) EmbedText(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		metrics.EmbedCallTotal.WithLabelValues("text", "placeholder").Inc()
		return &Result{Vector: o.ZeroVector(), Placeholder: true}, nil
	}

	key := cacheKey("text", []byte(text))
	if hit := o.cacheGet(ctx, key); hit != nil {
		metrics.EmbedCallTotal.WithLabelValues("text", "cached").Inc()
		return hit, nil
	}

	res, err := o.callWithRetry(ctx, "text", func(ctx context.Context) (*provider.Result, error) {
		return o.client.EmbedText(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	o.cachePut(ctx, key, res.Vector)
	return res, nil
}

// EmbedQuery 搜索查询向量化。搜索路径不排队, 与 worker 竞争同一限流器。
// 空查询返回占位零向量, 调用方应直接给出空结果。
func (o *Orchestrator) EmbedQuery(ctx context.Context, query string) (*Result, error) {
	return o.EmbedText(ctx, strings.TrimSpace(query))
}

// EmbedImage 图像向量化。超过大小上限的载荷在任何网络调用之前拒绝。
func (o *Orchestrator) EmbedImage(ctx context.Context, data []byte, mime string) (*Result, error) {
	if int64(len(data)) > o.opts.MaxImageBytes {
		metrics.EmbedCallTotal.WithLabelValues("image", "error").Inc()
		return nil, &provider.Error{
			Kind:    provider.KindOversized,
			Message: fmt.Sprintf("image payload %.2fMB exceeds %dMB limit", float64(len(data))/(1<<20), o.opts.MaxImageBytes>>20),
		}
	}

	key := cacheKey("image", data)
	if hit := o.cacheGet(ctx, key); hit != nil {
		metrics.EmbedCallTotal.WithLabelValues("image", "cached").Inc()
		return hit, nil
	}

	res, err := o.callWithRetry(ctx, "image", func(ctx context.Context) (*provider.Result, error) {
		return o.client.EmbedImage(ctx, data, mime)
	})
	if err != nil {
		return nil, err
	}
	o.cachePut(ctx, key, res.Vector)
	return res, nil
}

// EmbedImageFile 从本地文件读取图像并向量化
func (o *Orchestrator) EmbedImageFile(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat image file: %w", err)
	}
	if info.Size() > o.opts.MaxImageBytes {
		return nil, &provider.Error{
			Kind:    provider.KindOversized,
			Message: fmt.Sprintf("image file %.2fMB exceeds %dMB limit", float64(info.Size())/(1<<20), o.opts.MaxImageBytes>>20),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image file: %w", err)
	}
	return o.EmbedImage(ctx, data, mimeFromPath(path))
}

// EmbedMedia 为一个媒体条目生成双模态向量。
// 文本先行, 固定间隔后再发图像, 严格串行, 避免瞬时速率翻倍。
// 两路真实调用都失败时返回错误; 占位文本算作成功。
func (o *Orchestrator) EmbedMedia(ctx context.Context, filePath, description string) (*MediaResult, error) {
	result := &MediaResult{}

	textRes, err := o.EmbedText(ctx, description)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("text embedding: %v", err))
		o.logger.Warn("text embedding failed", "file", filePath, "error", err)
	} else {
		result.Text = textRes
	}

	// 无图像路径的条目只做文本侧, 不算失败
	if filePath == "" {
		if result.Text == nil {
			return result, fmt.Errorf("media embedding failed: %s", strings.Join(result.Errors, "; "))
		}
		return result, nil
	}

	if err := sleepCtx(ctx, o.opts.InterCallPause); err != nil {
		return result, err
	}

	imageRes, err := o.EmbedImageFile(ctx, filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("image embedding: %v", err))
		o.logger.Warn("image embedding failed", "file", filePath, "error", err)
	} else {
		result.Image = imageRes
	}

	if result.Text == nil && result.Image == nil {
		return result, fmt.Errorf("media embedding failed for %s: %s", filePath, strings.Join(result.Errors, "; "))
	}
	return result, nil
}

// callWithRetry 限流准入 + 瞬态错误指数退避。
// 永久错误立即返回; 退避 sleep 可被 ctx 取消。
func (o *Orchestrator) callWithRetry(ctx context.Context, kind string, fn func(context.Context) (*provider.Result, error)) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		if err := o.limiter.WaitUntilGranted(ctx); err != nil {
			return nil, fmt.Errorf("admission wait: %w", err)
		}

		start := time.Now()
		res, err := fn(ctx)
		metrics.EmbedCallDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

		if err == nil {
			o.limiter.RecordSuccess()
			metrics.EmbedCallTotal.WithLabelValues(kind, "ok").Inc()
			return &Result{
				Vector:    res.Vector,
				RequestID: res.RequestID,
				Attempts:  attempt,
			}, nil
		}

		errKind := provider.KindOf(err)
		if !errKind.Transient() {
			// 永久错误与限流器健康无关, 不回报
			metrics.EmbedCallTotal.WithLabelValues(kind, "error").Inc()
			return nil, err
		}

		o.limiter.RecordError(errKind == provider.KindThrottled)
		if errKind == provider.KindThrottled {
			metrics.EmbedCallTotal.WithLabelValues(kind, "throttled").Inc()
		} else {
			metrics.EmbedCallTotal.WithLabelValues(kind, "error").Inc()
		}
		lastErr = err

		if attempt < o.opts.MaxRetries {
			delay := o.opts.RetryBaseDelay << (attempt - 1)
			o.logger.Warn("transient embedding error, backing off",
				"kind", kind, "attempt", attempt, "max", o.opts.MaxRetries,
				"delay", delay, "error", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%s embedding failed after %d attempts: %w", kind, o.opts.MaxRetries, lastErr)
}

func (o *Orchestrator) cacheGet(ctx context.Context, key string) *Result {
	if o.cache == nil {
		return nil
	}
	var vec []float32
	if err := o.cache.Get(ctx, key, &vec); err != nil {
		return nil
	}
	if len(vec) != o.client.Dimension() {
		return nil
	}
	return &Result{Vector: vec, Cached: true}
}

func (o *Orchestrator) cachePut(ctx context.Context, key string, vec []float32) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, key, vec, o.opts.CacheTTL); err != nil {
		o.logger.Warn("vector cache write failed", "error", err)
	}
}

func cacheKey(kind string, content []byte) string {
	sum := sha256.Sum256(content)
	return "emb:" + kind + ":" + hex.EncodeToString(sum[:])
}

func mimeFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "jpg", "":
		return "jpeg"
	default:
		return ext
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
