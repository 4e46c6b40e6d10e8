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

package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"media-platform/pkg/errors"
)

const qdrantTimeout = 15 * time.Second

// QdrantStore 通过 Qdrant REST API 管理双命名向量集合
type QdrantStore struct {
	client     *resty.Client
	collection string
}

// NewQdrantStore 创建 Qdrant 存储。addr 形如 http://localhost:6333,
// apiKey 可为空, collection 为空时使用 DefaultCollection。
func NewQdrantStore(addr, apiKey, collection string) (*QdrantStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("qdrant addr is required")
	}
	if collection == "" {
		collection = DefaultCollection
	}

	client := resty.New().
		SetBaseURL(addr).
		SetTimeout(qdrantTimeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("api-key", apiKey)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// EnsureCollection 创建集合, 两个命名向量空间共用同一维度, 余弦距离。
// 集合已存在时返回 nil。
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&exists).
		Get("/collections/" + s.collection + "/exists")
	if err != nil {
		return errors.Wrap(err, "check qdrant collection")
	}
	if resp.IsSuccess() && exists.Result.Exists {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			string(SpaceText): map[string]interface{}{
				"size":     dimension,
				"distance": "Cosine",
			},
			string(SpaceImage): map[string]interface{}{
				"size":     dimension,
				"distance": "Cosine",
			},
		},
	}
	resp, err = s.client.R().
		SetContext(ctx).
		SetBody(body).
		Put("/collections/" + s.collection)
	if err != nil {
		return errors.Wrap(err, "create qdrant collection")
	}
	if resp.IsError() {
		return fmt.Errorf("create qdrant collection: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Upsert 写入单点, wait=true 保证写入对后续检索可见
func (s *QdrantStore) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.Wrap(errors.ErrInvalidArg, "nil record")
	}

	vectors := make(map[string][]float32, len(rec.Vectors))
	for space, vec := range rec.Vectors {
		vectors[string(space)] = vec
	}
	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id":      rec.PointID,
				"vector":  vectors,
				"payload": rec.Payload,
			},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(body).
		Put("/collections/" + s.collection + "/points")
	if err != nil {
		return errors.Wrap(err, "qdrant upsert")
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant upsert: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      uint64                 `json:"id"`
		Score   float32                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
}

// Search 在指定命名向量空间检索
func (s *QdrantStore) Search(ctx context.Context, space Space, query []float32, limit int, scoreThreshold float32) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	body := map[string]interface{}{
		"vector": map[string]interface{}{
			"name":   string(space),
			"vector": query,
		},
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}

	var out qdrantSearchResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/collections/" + s.collection + "/points/search")
	if err != nil {
		return nil, errors.Wrap(err, "qdrant search")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("qdrant search: status %d: %s", resp.StatusCode(), resp.String())
	}

	hits := make([]Hit, 0, len(out.Result))
	for _, r := range out.Result {
		hits = append(hits, Hit{PointID: r.ID, Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

type qdrantRetrieveResponse struct {
	Result []struct {
		ID      uint64                 `json:"id"`
		Vector  map[string][]float32   `json:"vector"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
}

// Retrieve 按点 ID 取回, 含向量与 payload
func (s *QdrantStore) Retrieve(ctx context.Context, pointID uint64) (*Record, error) {
	body := map[string]interface{}{
		"ids":          []uint64{pointID},
		"with_vector":  true,
		"with_payload": true,
	}

	var out qdrantRetrieveResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/collections/" + s.collection + "/points")
	if err != nil {
		return nil, errors.Wrap(err, "qdrant retrieve")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("qdrant retrieve: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Result) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "point %d", pointID)
	}

	r := out.Result[0]
	rec := &Record{
		PointID: r.ID,
		Vectors: make(map[Space][]float32, len(r.Vector)),
		Payload: r.Payload,
	}
	for name, vec := range r.Vector {
		rec.Vectors[Space(name)] = vec
	}
	return rec, nil
}

// Delete 按点 ID 删除, 点不存在时同样成功
func (s *QdrantStore) Delete(ctx context.Context, pointID uint64) error {
	body := map[string]interface{}{
		"points": []uint64{pointID},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(body).
		Post("/collections/" + s.collection + "/points/delete")
	if err != nil {
		return errors.Wrap(err, "qdrant delete")
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant delete: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Count 集合点数
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"exact": true}).
		SetResult(&out).
		Post("/collections/" + s.collection + "/points/count")
	if err != nil {
		return 0, errors.Wrap(err, "qdrant count")
	}
	if resp.IsError() {
		return 0, fmt.Errorf("qdrant count: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Result.Count, nil
}

// Close 释放 HTTP 连接
func (s *QdrantStore) Close() error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}
