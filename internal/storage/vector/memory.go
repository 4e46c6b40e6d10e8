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
	"math"
	"sort"
	"sync"

	"media-platform/pkg/errors"
)

// MemoryStore 内存向量存储, 单进程部署与测试用
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[uint64]*Record
}

// NewMemoryStore 创建内存向量存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uint64]*Record),
	}
}

// EnsureCollection 记录维度, 幂等
func (s *MemoryStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("collection already exists with dimension %d", s.dimension)
	}
	s.dimension = dimension
	return nil
}

// Upsert 写入或覆盖记录
func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.Wrap(errors.ErrInvalidArg, "nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, space := range []Space{SpaceText, SpaceImage} {
		vec, ok := rec.Vectors[space]
		if !ok {
			return errors.Wrapf(errors.ErrInvalidArg, "record %d missing %s vector", rec.PointID, space)
		}
		if s.dimension != 0 && len(vec) != s.dimension {
			return errors.Wrapf(errors.ErrInvalidArg,
				"record %d %s vector has dimension %d, want %d", rec.PointID, space, len(vec), s.dimension)
		}
	}

	s.records[rec.PointID] = cloneRecord(rec)
	return nil
}

// Search 余弦相似度检索, 阈值过滤后按得分降序
func (s *MemoryStore) Search(ctx context.Context, space Space, query []float32, limit int, scoreThreshold float32) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, rec := range s.records {
		vec, ok := rec.Vectors[space]
		if !ok {
			continue
		}
		score := cosine(query, vec)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, Hit{
			PointID: rec.PointID,
			Score:   score,
			Payload: clonePayload(rec.Payload),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Retrieve 按点 ID 取回
func (s *MemoryStore) Retrieve(ctx context.Context, pointID uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[pointID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "point %d", pointID)
	}
	return cloneRecord(rec), nil
}

// Delete 删除记录
func (s *MemoryStore) Delete(ctx context.Context, pointID uint64) error {
	s.mu.Lock()
	delete(s.records, pointID)
	s.mu.Unlock()
	return nil
}

// Count 记录数
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close 无连接可关
func (s *MemoryStore) Close() error {
	return nil
}

// cosine 余弦相似度。任一侧为零向量时相似度为 0,
// 零向量占位不会与任何查询匹配。
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func cloneRecord(rec *Record) *Record {
	out := &Record{
		PointID: rec.PointID,
		Vectors: make(map[Space][]float32, len(rec.Vectors)),
		Payload: clonePayload(rec.Payload),
	}
	for space, vec := range rec.Vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		out.Vectors[space] = cp
	}
	return out
}

func clonePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
