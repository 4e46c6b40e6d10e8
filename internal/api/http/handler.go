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
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"media-platform/internal/media"
	"media-platform/internal/ratelimit"
	"media-platform/internal/search"
	"media-platform/internal/taskqueue"
	"media-platform/pkg/errors"
	"media-platform/pkg/metrics"
)

// Handler HTTP 处理器
type Handler struct {
	scheduler    *taskqueue.Scheduler
	queue        *taskqueue.Queue
	limiter      *ratelimit.AdaptiveLimiter
	mediaService *media.Service
	searchEngine *search.Engine
}

// NewHandler 创建 HTTP 处理器
func NewHandler(scheduler *taskqueue.Scheduler, queue *taskqueue.Queue, limiter *ratelimit.AdaptiveLimiter, mediaService *media.Service, searchEngine *search.Engine) *Handler {
	return &Handler{
		scheduler:    scheduler,
		queue:        queue,
		limiter:      limiter,
		mediaService: mediaService,
		searchEngine: searchEngine,
	}
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "media-platform",
	})
}

// Metrics Prometheus 指标
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

type uploadMediaRequest struct {
	MediaID       string            `json:"media_id"`
	FilePath      string            `json:"file_path"`
	ThumbnailPath string            `json:"thumbnail_path"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata"`
	Priority      string            `json:"priority"`
}

// UploadMedia 提交媒体向量化任务, 立即返回 task id, 不等待执行
// POST /api/media
func (h *Handler) UploadMedia(c context.Context, ctx *app.RequestContext) {
	var req uploadMediaRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}
	if req.FilePath == "" && req.ThumbnailPath == "" && strings.TrimSpace(req.Description) == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "at least one of file_path, thumbnail_path, description is required",
		})
		return
	}
	if req.MediaID == "" {
		req.MediaID = uuid.New().String()
	}

	payload := taskqueue.UploadPayload{
		MediaID:       req.MediaID,
		FilePath:      req.FilePath,
		ThumbnailPath: req.ThumbnailPath,
		Description:   req.Description,
		Metadata:      req.Metadata,
	}
	task, err := h.submit(c, payload, req.Priority)
	if err != nil {
		h.writeSubmitError(c, ctx, err)
		return
	}

	ctx.JSON(consts.StatusAccepted, map[string]interface{}{
		"task_id":  task.ID,
		"media_id": req.MediaID,
		"status":   task.Status,
	})
}

type updateDescriptionRequest struct {
	Description string `json:"description"`
	FilePath    string `json:"file_path"`
	Priority    string `json:"priority"`
}

// UpdateDescription 提交描述更新任务
// PUT /api/media/:id/description
func (h *Handler) UpdateDescription(c context.Context, ctx *app.RequestContext) {
	mediaID := ctx.Param("id")
	if mediaID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "media id is required"})
		return
	}
	var req updateDescriptionRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	payload := taskqueue.DescriptionUpdatePayload{
		MediaID:        mediaID,
		NewDescription: req.Description,
		FilePath:       req.FilePath,
	}
	task, err := h.submit(c, payload, req.Priority)
	if err != nil {
		h.writeSubmitError(c, ctx, err)
		return
	}

	ctx.JSON(consts.StatusAccepted, map[string]interface{}{
		"task_id":  task.ID,
		"media_id": mediaID,
		"status":   task.Status,
	})
}

// DeleteMedia 删除媒体向量点, 同步执行
// DELETE /api/media/:id
func (h *Handler) DeleteMedia(c context.Context, ctx *app.RequestContext) {
	mediaID := ctx.Param("id")
	if mediaID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "media id is required"})
		return
	}
	if err := h.mediaService.DeleteMedia(c, mediaID); err != nil {
		hlog.CtxErrorf(c, "delete media %s failed: %v", mediaID, err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"media_id": mediaID, "status": "deleted"})
}

// Search 跨模态搜索, 同步返回合并结果
// GET /api/search?q=...&limit=...
func (h *Handler) Search(c context.Context, ctx *app.RequestContext) {
	query := ctx.Query("q")
	limit := 0
	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	result, err := h.searchEngine.Search(c, query, limit)
	if err != nil {
		hlog.CtxErrorf(c, "search failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

type asyncSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SubmitSearch 提交异步搜索任务, 供批量/后台检索使用
// POST /api/search/tasks
func (h *Handler) SubmitSearch(c context.Context, ctx *app.RequestContext) {
	var req asyncSearchRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	task, err := h.submit(c, taskqueue.SearchPayload{Query: req.Query, Limit: req.Limit}, "")
	if err != nil {
		h.writeSubmitError(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusAccepted, map[string]interface{}{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

// GetTask 查询任务状态
// GET /api/tasks/:id
func (h *Handler) GetTask(c context.Context, ctx *app.RequestContext) {
	taskID := ctx.Param("id")
	view, ok := h.queue.StatusOf(taskID)
	if !ok {
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "task not found: " + taskID})
		return
	}
	ctx.JSON(consts.StatusOK, view)
}

// QueueStats 队列与限流器状态
// GET /api/queue/stats
func (h *Handler) QueueStats(c context.Context, ctx *app.RequestContext) {
	st := h.limiter.Status()
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"queue": h.queue.GetStats(),
		"rate_limit": map[string]interface{}{
			"ceiling":   st.Ceiling,
			"used":      st.Used,
			"remaining": st.Remaining,
			"window":    st.Window.String(),
			"reset_at":  st.ResetAt,
		},
	})
}

// MediaStats 媒体库统计
// GET /api/media/stats
func (h *Handler) MediaStats(c context.Context, ctx *app.RequestContext) {
	stats, err := h.mediaService.GetStats(c)
	if err != nil {
		hlog.CtxErrorf(c, "media stats failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, stats)
}

// submit 解析优先级并入队。priority 为空时按任务种类取默认。
func (h *Handler) submit(c context.Context, payload taskqueue.Payload, priority string) (*taskqueue.Task, error) {
	p := taskqueue.DefaultPriorityFor(payload.Kind())
	switch strings.ToUpper(priority) {
	case "URGENT":
		p = taskqueue.PriorityUrgent
	case "HIGH":
		p = taskqueue.PriorityHigh
	case "NORMAL":
		p = taskqueue.PriorityNormal
	case "LOW":
		p = taskqueue.PriorityLow
	}
	// -1 表示取调度器配置的默认重试次数
	return h.scheduler.Submit(c, payload, p, -1)
}

func (h *Handler) writeSubmitError(c context.Context, ctx *app.RequestContext, err error) {
	if errors.Is(err, errors.ErrQueueStopped) {
		ctx.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "task queue is not running"})
		return
	}
	hlog.CtxErrorf(c, "submit task failed: %v", err)
	ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
}
