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

package media

import (
	"context"
	"log/slog"
	"time"

	"media-platform/internal/embedding"
	"media-platform/internal/storage/vector"
	"media-platform/pkg/errors"
)

// StoreResult 一次媒体入库的结果
type StoreResult struct {
	MediaID          string `json:"media_id"`
	PointID          uint64 `json:"point_id"`
	TextEmbedded     bool   `json:"text_embedded"`
	ImageEmbedded    bool   `json:"image_embedded"`
	TextPlaceholder  bool   `json:"text_placeholder"`
	ImagePlaceholder bool   `json:"image_placeholder"`
}

// Stats 媒体库统计
type Stats struct {
	TotalPoints int `json:"total_points"`
	Dimension   int `json:"dimension"`
}

// Service 媒体向量服务。把向量化编排器与向量存储串起来,
// 每个媒体条目在集合中占一个点, 双命名向量空间各存一份。
type Service struct {
	orchestrator *embedding.Orchestrator
	store        vector.Store
	logger       *slog.Logger
}

// NewService 创建媒体向量服务
func NewService(orch *embedding.Orchestrator, store vector.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{orchestrator: orch, store: store, logger: logger}
}

// EnsureReady 确保底层集合存在
func (s *Service) EnsureReady(ctx context.Context) error {
	return s.store.EnsureCollection(ctx, s.orchestrator.Dimension())
}

// StoreMediaEmbedding 向量化并入库一个媒体条目。
// 文本与图像各自失败时写入零向量占位, 两侧全部失败才报错;
// 重复入库同一 media_id 覆盖旧点。
func (s *Service) StoreMediaEmbedding(ctx context.Context, mediaID, filePath, description string, metadata map[string]interface{}) (*StoreResult, error) {
	if mediaID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "media id is required")
	}

	res, err := s.orchestrator.EmbedMedia(ctx, filePath, description)
	if err != nil {
		return nil, errors.Wrapf(err, "embed media %s", mediaID)
	}

	textVec := s.orchestrator.ZeroVector()
	imageVec := s.orchestrator.ZeroVector()
	out := &StoreResult{MediaID: mediaID, PointID: PointID(mediaID)}

	if res.Text != nil {
		textVec = res.Text.Vector
		out.TextEmbedded = true
		out.TextPlaceholder = res.Text.Placeholder
	}
	if res.Image != nil {
		imageVec = res.Image.Vector
		out.ImageEmbedded = true
		out.ImagePlaceholder = res.Image.Placeholder
	}

	payload := buildPayload(mediaID, description, filePath, metadata)
	payload["has_text_embedding"] = out.TextEmbedded && !out.TextPlaceholder
	payload["has_image_embedding"] = out.ImageEmbedded && !out.ImagePlaceholder

	rec := &vector.Record{
		PointID: out.PointID,
		Vectors: map[vector.Space][]float32{
			vector.SpaceText:  textVec,
			vector.SpaceImage: imageVec,
		},
		Payload: payload,
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "upsert media %s", mediaID)
	}

	s.logger.Info("media embedding stored",
		"media_id", mediaID,
		"point_id", out.PointID,
		"text", out.TextEmbedded,
		"image", out.ImageEmbedded)
	return out, nil
}

// UpdateDescription 重新向量化描述文本, 保留既有的图像向量。
// 点不存在时作为纯文本条目新建, 图像侧写零向量占位。
func (s *Service) UpdateDescription(ctx context.Context, mediaID, newDescription, filePath string) (*StoreResult, error) {
	if mediaID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "media id is required")
	}

	textRes, err := s.orchestrator.EmbedText(ctx, newDescription)
	if err != nil {
		return nil, errors.Wrapf(err, "embed description for %s", mediaID)
	}

	pointID := PointID(mediaID)
	imageVec := s.orchestrator.ZeroVector()
	var payload map[string]interface{}

	existing, err := s.store.Retrieve(ctx, pointID)
	switch {
	case err == nil:
		if vec, ok := existing.Vectors[vector.SpaceImage]; ok {
			imageVec = vec
		}
		payload = existing.Payload
	case errors.Is(err, errors.ErrNotFound):
		// 新建纯文本条目
	default:
		return nil, errors.Wrapf(err, "retrieve media %s", mediaID)
	}

	if payload == nil {
		payload = buildPayload(mediaID, newDescription, filePath, nil)
		payload["has_image_embedding"] = false
	} else {
		payload["description"] = newDescription
		payload["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	payload["has_text_embedding"] = !textRes.Placeholder

	rec := &vector.Record{
		PointID: pointID,
		Vectors: map[vector.Space][]float32{
			vector.SpaceText:  textRes.Vector,
			vector.SpaceImage: imageVec,
		},
		Payload: payload,
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "upsert media %s", mediaID)
	}

	s.logger.Info("media description updated", "media_id", mediaID, "point_id", pointID)
	return &StoreResult{
		MediaID:         mediaID,
		PointID:         pointID,
		TextEmbedded:    true,
		TextPlaceholder: textRes.Placeholder,
		ImageEmbedded:   existing != nil,
	}, nil
}

// DeleteMedia 删除媒体条目对应的向量点, 幂等
func (s *Service) DeleteMedia(ctx context.Context, mediaID string) error {
	if mediaID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "media id is required")
	}
	if err := s.store.Delete(ctx, PointID(mediaID)); err != nil {
		return errors.Wrapf(err, "delete media %s", mediaID)
	}
	return nil
}

// GetStats 媒体库统计
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count points")
	}
	return &Stats{TotalPoints: n, Dimension: s.orchestrator.Dimension()}, nil
}

func buildPayload(mediaID, description, filePath string, metadata map[string]interface{}) map[string]interface{} {
	payload := make(map[string]interface{}, len(metadata)+4)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["media_id"] = mediaID
	payload["description"] = description
	if filePath != "" {
		payload["file_path"] = filePath
	}
	payload["created_at"] = time.Now().UTC().Format(time.RFC3339)
	return payload
}
