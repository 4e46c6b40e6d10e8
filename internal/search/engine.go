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

// Package search 跨模态搜索合并引擎。一次查询向量化, 两个命名向量空间
// 各召回一批候选, 按 media_id 合并去重后统一排序。
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"media-platform/internal/embedding"
	"media-platform/internal/storage/vector"
	"media-platform/pkg/errors"
	"media-platform/pkg/metrics"
)

const (
	DefaultScoreThreshold = 0.5
	DefaultLimit          = 20
	DefaultMaxLimit       = 100

	// 候选倍率。两路各取 limit 的两倍再合并,
	// 避免同一媒体在两个空间都命中时挤掉只命中一路的条目。
	candidateFactor = 2
)

// 命中来源
const (
	MatchText  = "text"
	MatchImage = "image"
	MatchBoth  = "both"
)

// Item 合并后的单条搜索结果
type Item struct {
	MediaID    string                 `json:"media_id"`
	Score      float32                `json:"score"`
	TextScore  float32                `json:"text_score,omitempty"`
	ImageScore float32                `json:"image_score,omitempty"`
	MatchType  string                 `json:"match_type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Result 一次搜索的完整结果
type Result struct {
	Query string `json:"query"`
	Total int    `json:"total"`
	Items []Item `json:"items"`
}

// Options 引擎可调参数, 零值使用默认。阈值是运维配置,
// 不随单次请求变化。
type Options struct {
	ScoreThreshold float32
	DefaultLimit   int
	MaxLimit       int
}

// Engine 跨模态搜索引擎
type Engine struct {
	orchestrator *embedding.Orchestrator
	store        vector.Store
	logger       *slog.Logger
	opts         Options
}

// NewEngine 创建搜索引擎
func NewEngine(orch *embedding.Orchestrator, store vector.Store, logger *slog.Logger, opts Options) *Engine {
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = DefaultScoreThreshold
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{orchestrator: orch, store: store, logger: logger, opts: opts}
}

// Search 跨模态搜索。空白查询直接返回空结果, 不消耗 provider 配额;
// limit 非法时取默认值, 超出上限时截断到上限。
func (e *Engine) Search(ctx context.Context, query string, limit int) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(query) == "" {
		return &Result{Query: query, Items: []Item{}}, nil
	}
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	if limit > e.opts.MaxLimit {
		limit = e.opts.MaxLimit
	}

	embedded, err := e.orchestrator.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	candidates := limit * candidateFactor
	textHits, err := e.store.Search(ctx, vector.SpaceText, embedded.Vector, candidates, e.opts.ScoreThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "search text space")
	}
	imageHits, err := e.store.Search(ctx, vector.SpaceImage, embedded.Vector, candidates, e.opts.ScoreThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "search image space")
	}

	items := merge(textHits, imageHits)
	if len(items) > limit {
		items = items[:limit]
	}

	e.logger.Debug("search merged",
		"query_len", len(query),
		"text_hits", len(textHits),
		"image_hits", len(imageHits),
		"returned", len(items))
	return &Result{Query: query, Total: len(items), Items: items}, nil
}

// merge 按 media_id 合并两路召回。文本命中先落位,
// 图像命中对已有条目升级为 both 并取两侧较高分, 否则作为纯图像命中加入。
// 最终按总分降序, 同分按 media_id 保证顺序稳定。
func merge(textHits, imageHits []vector.Hit) []Item {
	byMedia := make(map[string]*Item, len(textHits)+len(imageHits))
	order := make([]string, 0, len(textHits)+len(imageHits))

	for _, h := range textHits {
		id := mediaIDOf(h)
		if id == "" {
			continue
		}
		if _, ok := byMedia[id]; ok {
			continue
		}
		byMedia[id] = &Item{
			MediaID:   id,
			Score:     h.Score,
			TextScore: h.Score,
			MatchType: MatchText,
			Payload:   h.Payload,
		}
		order = append(order, id)
	}

	for _, h := range imageHits {
		id := mediaIDOf(h)
		if id == "" {
			continue
		}
		if item, ok := byMedia[id]; ok {
			item.ImageScore = h.Score
			item.MatchType = MatchBoth
			if h.Score > item.Score {
				item.Score = h.Score
			}
			continue
		}
		byMedia[id] = &Item{
			MediaID:    id,
			Score:      h.Score,
			ImageScore: h.Score,
			MatchType:  MatchImage,
			Payload:    h.Payload,
		}
		order = append(order, id)
	}

	items := make([]Item, 0, len(order))
	for _, id := range order {
		items = append(items, *byMedia[id])
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].MediaID < items[j].MediaID
	})
	return items
}

func mediaIDOf(h vector.Hit) string {
	if h.Payload == nil {
		return ""
	}
	id, _ := h.Payload["media_id"].(string)
	return id
}
