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

	"media-platform/internal/media"
	"media-platform/internal/search"
	"media-platform/internal/taskqueue"
)

// RegisterTaskHandlers 注册全部任务种类的处理器。
// upload 任务用缩略图做图像向量化, 原图只留在 payload 里;
// search 任务用于异步批量检索, 在线搜索走 HTTP 同步路径。
func RegisterTaskHandlers(s *taskqueue.Scheduler, svc *media.Service, engine *search.Engine) {
	s.RegisterHandler(taskqueue.KindUploadEmbedding, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		p, ok := task.Payload.(taskqueue.UploadPayload)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T for %s", task.Payload, task.Kind)
		}
		imagePath := p.ThumbnailPath
		if imagePath == "" {
			imagePath = p.FilePath
		}
		metadata := make(map[string]interface{}, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			metadata[k] = v
		}
		if p.FilePath != "" {
			metadata["source_path"] = p.FilePath
		}
		return svc.StoreMediaEmbedding(ctx, p.MediaID, imagePath, p.Description, metadata)
	})

	s.RegisterHandler(taskqueue.KindDescriptionUpdate, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		p, ok := task.Payload.(taskqueue.DescriptionUpdatePayload)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T for %s", task.Payload, task.Kind)
		}
		return svc.UpdateDescription(ctx, p.MediaID, p.NewDescription, p.FilePath)
	})

	s.RegisterHandler(taskqueue.KindSearchEmbedding, func(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
		p, ok := task.Payload.(taskqueue.SearchPayload)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T for %s", task.Payload, task.Kind)
		}
		return engine.Search(ctx, p.Query, p.Limit)
	})
}
