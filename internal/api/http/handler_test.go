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
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"media-platform/internal/api/http/middleware"
	"media-platform/internal/embedding"
	"media-platform/internal/media"
	"media-platform/internal/provider"
	"media-platform/internal/ratelimit"
	"media-platform/internal/search"
	"media-platform/internal/storage/vector"
	"media-platform/internal/taskqueue"
)

type fakeClient struct{ dim int }

func (c *fakeClient) EmbedText(ctx context.Context, text string) (*provider.Result, error) {
	return &provider.Result{Vector: []float32{1, 0, 0}, Dimension: c.dim}, nil
}

func (c *fakeClient) EmbedImage(ctx context.Context, data []byte, mime string) (*provider.Result, error) {
	return &provider.Result{Vector: []float32{0, 1, 0}, Dimension: c.dim}, nil
}

func (c *fakeClient) Dimension() int { return c.dim }

type testStack struct {
	hertz     *server.Hertz
	queue     *taskqueue.Queue
	scheduler *taskqueue.Scheduler
	service   *media.Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	limiter := ratelimit.NewAdaptiveLimiter(1000, time.Minute, 60, nil)
	orch := embedding.NewOrchestrator(&fakeClient{dim: 3}, limiter, nil, nil, embedding.Options{
		InterCallPause: time.Millisecond,
	})
	store := vector.NewMemoryStore()
	svc := media.NewService(orch, store, nil)
	if err := svc.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	engine := search.NewEngine(orch, store, nil, search.Options{ScoreThreshold: 0.1})

	queue := taskqueue.NewQueue()
	scheduler := taskqueue.NewScheduler(queue, limiter, nil, taskqueue.SchedulerOptions{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	})
	scheduler.RegisterHandler(taskqueue.KindUploadEmbedding, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		p := task.Payload.(taskqueue.UploadPayload)
		return svc.StoreMediaEmbedding(ctx, p.MediaID, "", p.Description, nil)
	})
	scheduler.RegisterHandler(taskqueue.KindDescriptionUpdate, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		p := task.Payload.(taskqueue.DescriptionUpdatePayload)
		return svc.UpdateDescription(ctx, p.MediaID, p.NewDescription, p.FilePath)
	})
	scheduler.RegisterHandler(taskqueue.KindSearchEmbedding, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		p := task.Payload.(taskqueue.SearchPayload)
		return engine.Search(ctx, p.Query, p.Limit)
	})
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = scheduler.Stop(ctx)
	})

	handler := NewHandler(scheduler, queue, limiter, svc, engine)
	router := NewRouter(handler, middleware.NewMiddleware(nil), RouterOptions{})
	return &testStack{
		hertz:     router.Build(":0"),
		queue:     queue,
		scheduler: scheduler,
		service:   svc,
	}
}

func (s *testStack) postJSON(t *testing.T, url string, body interface{}) *ut.ResponseRecorder {
	t.Helper()
	return s.doJSON(t, "POST", url, body)
}

func (s *testStack) doJSON(t *testing.T, method, url string, body interface{}) *ut.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return ut.PerformRequest(s.hertz.Engine, method, url,
		&ut.Body{Body: bytes.NewReader(data), Len: len(data)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
}

func (s *testStack) get(t *testing.T, url string) *ut.ResponseRecorder {
	t.Helper()
	return ut.PerformRequest(s.hertz.Engine, "GET", url,
		&ut.Body{Body: bytes.NewReader(nil), Len: 0})
}

func (s *testStack) waitTerminal(t *testing.T, taskID string) taskqueue.View {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if view, ok := s.queue.StatusOf(taskID); ok && view.Status.Terminal() {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach terminal state", taskID)
	return taskqueue.View{}
}

func decodeBody(t *testing.T, resp *ut.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Result().Body(), out); err != nil {
		t.Fatalf("decode body %q: %v", resp.Result().Body(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStack(t)
	resp := s.get(t, "/api/health")
	if resp.Result().StatusCode() != 200 {
		t.Errorf("status = %d, want 200", resp.Result().StatusCode())
	}
	if !bytes.Contains(resp.Result().Body(), []byte("ok")) {
		t.Errorf("body: %s", resp.Result().Body())
	}
}

func TestUploadMedia_AcceptedAndExecuted(t *testing.T) {
	s := newTestStack(t)
	resp := s.postJSON(t, "/api/media", map[string]interface{}{
		"media_id":    "m-1",
		"description": "a red bicycle",
	})
	if resp.Result().StatusCode() != 202 {
		t.Fatalf("status = %d, want 202; body %s", resp.Result().StatusCode(), resp.Result().Body())
	}

	var out struct {
		TaskID  string `json:"task_id"`
		MediaID string `json:"media_id"`
	}
	decodeBody(t, resp, &out)
	if out.TaskID == "" || out.MediaID != "m-1" {
		t.Fatalf("response = %+v", out)
	}

	view := s.waitTerminal(t, out.TaskID)
	if view.Status != taskqueue.StatusCompleted {
		t.Errorf("task status = %s, error %s", view.Status, view.Error)
	}
}

func TestUploadMedia_CarriesDefaultRetryBudget(t *testing.T) {
	s := newTestStack(t)
	resp := s.postJSON(t, "/api/media", map[string]interface{}{
		"media_id":    "m-retry",
		"description": "budget check",
	})
	if resp.Result().StatusCode() != 202 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &out)
	view := s.waitTerminal(t, out.TaskID)
	if view.MaxRetries != taskqueue.DefaultMaxRetries {
		t.Errorf("max_retries = %d, want %d", view.MaxRetries, taskqueue.DefaultMaxRetries)
	}
}

func TestUploadMedia_TransientFailureRetries(t *testing.T) {
	limiter := ratelimit.NewAdaptiveLimiter(1000, time.Minute, 60, nil)
	queue := taskqueue.NewQueue()
	scheduler := taskqueue.NewScheduler(queue, limiter, nil, taskqueue.SchedulerOptions{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
	})

	var attempts atomic.Int32
	scheduler.RegisterHandler(taskqueue.KindUploadEmbedding, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("vector store unavailable")
		}
		return "ok", nil
	})
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = scheduler.Stop(ctx)
	})

	handler := NewHandler(scheduler, queue, limiter, nil, nil)
	router := NewRouter(handler, middleware.NewMiddleware(nil), RouterOptions{})
	s := &testStack{hertz: router.Build(":0"), queue: queue, scheduler: scheduler}

	resp := s.postJSON(t, "/api/media", map[string]interface{}{
		"media_id":    "m-flaky",
		"description": "fails twice then succeeds",
	})
	if resp.Result().StatusCode() != 202 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &out)
	view := s.waitTerminal(t, out.TaskID)
	if view.Status != taskqueue.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed after retries", view.Status, view.Error)
	}
	if view.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", view.RetryCount)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("handler attempts = %d, want 3", got)
	}
}

func TestUploadMedia_RejectsEmptyBody(t *testing.T) {
	s := newTestStack(t)
	resp := s.postJSON(t, "/api/media", map[string]interface{}{})
	if resp.Result().StatusCode() != 400 {
		t.Errorf("status = %d, want 400", resp.Result().StatusCode())
	}
}

func TestUpdateDescription_Accepted(t *testing.T) {
	s := newTestStack(t)
	resp := s.doJSON(t, "PUT", "/api/media/m-2/description", map[string]interface{}{
		"description": "updated words",
	})
	if resp.Result().StatusCode() != 202 {
		t.Fatalf("status = %d, want 202; body %s", resp.Result().StatusCode(), resp.Result().Body())
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &out)
	view := s.waitTerminal(t, out.TaskID)
	if view.Status != taskqueue.StatusCompleted {
		t.Errorf("task status = %s, error %s", view.Status, view.Error)
	}
	if view.Priority != "HIGH" {
		t.Errorf("priority = %s, want HIGH default for description update", view.Priority)
	}
}

func TestSearch_SyncRoundTrip(t *testing.T) {
	s := newTestStack(t)
	if _, err := s.service.StoreMediaEmbedding(context.Background(), "m-3", "", "a red bicycle", nil); err != nil {
		t.Fatalf("seed media: %v", err)
	}

	resp := s.get(t, "/api/search?q=bicycle&limit=5")
	if resp.Result().StatusCode() != 200 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}

	var out search.Result
	decodeBody(t, resp, &out)
	if out.Total != 1 || out.Items[0].MediaID != "m-3" {
		t.Errorf("result = %+v, want one hit for m-3", out)
	}
}

// 无描述的上传得到零向量占位, 不参与检索; 补写描述后才可检索到。
func TestSearch_HitsAfterDescriptionBackfill(t *testing.T) {
	s := newTestStack(t)
	if _, err := s.service.StoreMediaEmbedding(context.Background(), "m-5", "", "", nil); err != nil {
		t.Fatalf("seed media: %v", err)
	}

	resp := s.get(t, "/api/search?q=bicycle")
	if resp.Result().StatusCode() != 200 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}
	var before search.Result
	decodeBody(t, resp, &before)
	if before.Total != 0 {
		t.Fatalf("placeholder should not match, got %+v", before)
	}

	resp = s.doJSON(t, "PUT", "/api/media/m-5/description", map[string]interface{}{
		"description": "a red bicycle",
	})
	if resp.Result().StatusCode() != 202 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &out)
	if view := s.waitTerminal(t, out.TaskID); view.Status != taskqueue.StatusCompleted {
		t.Fatalf("update status = %s (%s)", view.Status, view.Error)
	}

	resp = s.get(t, "/api/search?q=bicycle")
	var after search.Result
	decodeBody(t, resp, &after)
	if after.Total != 1 || after.Items[0].MediaID != "m-5" {
		t.Fatalf("result after backfill = %+v, want one hit for m-5", after)
	}
	if after.Items[0].MatchType != search.MatchText {
		t.Errorf("match type = %s, want %s", after.Items[0].MatchType, search.MatchText)
	}
}

func TestSearch_BadLimit(t *testing.T) {
	s := newTestStack(t)
	resp := s.get(t, "/api/search?q=x&limit=abc")
	if resp.Result().StatusCode() != 400 {
		t.Errorf("status = %d, want 400", resp.Result().StatusCode())
	}
}

func TestSubmitSearch_AsyncTask(t *testing.T) {
	s := newTestStack(t)
	resp := s.postJSON(t, "/api/search/tasks", map[string]interface{}{
		"query": "bicycle",
		"limit": 5,
	})
	if resp.Result().StatusCode() != 202 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &out)
	view := s.waitTerminal(t, out.TaskID)
	if view.Status != taskqueue.StatusCompleted {
		t.Errorf("task status = %s, error %s", view.Status, view.Error)
	}
	if view.Priority != "URGENT" {
		t.Errorf("priority = %s, want URGENT default for search", view.Priority)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStack(t)
	resp := s.get(t, "/api/tasks/no-such-task")
	if resp.Result().StatusCode() != 404 {
		t.Errorf("status = %d, want 404", resp.Result().StatusCode())
	}
}

func TestQueueStats_IncludesRateLimit(t *testing.T) {
	s := newTestStack(t)
	resp := s.get(t, "/api/queue/stats")
	if resp.Result().StatusCode() != 200 {
		t.Fatalf("status = %d", resp.Result().StatusCode())
	}

	var out struct {
		RateLimit struct {
			Ceiling   int `json:"ceiling"`
			Remaining int `json:"remaining"`
		} `json:"rate_limit"`
	}
	decodeBody(t, resp, &out)
	if out.RateLimit.Ceiling != 1000 {
		t.Errorf("ceiling = %d, want 1000", out.RateLimit.Ceiling)
	}
}

func TestDeleteMedia(t *testing.T) {
	s := newTestStack(t)
	if _, err := s.service.StoreMediaEmbedding(context.Background(), "m-4", "", "to delete", nil); err != nil {
		t.Fatalf("seed media: %v", err)
	}

	resp := ut.PerformRequest(s.hertz.Engine, "DELETE", "/api/media/m-4",
		&ut.Body{Body: bytes.NewReader(nil), Len: 0})
	if resp.Result().StatusCode() != 200 {
		t.Fatalf("status = %d, body %s", resp.Result().StatusCode(), resp.Result().Body())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestStack(t)
	resp := s.get(t, "/metrics")
	if resp.Result().StatusCode() != 200 {
		t.Fatalf("status = %d", resp.Result().StatusCode())
	}
	if !bytes.Contains(resp.Result().Body(), []byte("media_")) {
		t.Errorf("metrics body missing media_ collectors: %.200s", resp.Result().Body())
	}
}
