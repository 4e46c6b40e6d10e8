package vector

import (
	"context"
)

// Space 命名向量空间。每条媒体记录同时携带文本和图像两个向量,
// 各自独立建索引、独立检索。
type Space string

const (
	SpaceText  Space = "text_embedding"
	SpaceImage Space = "image_embedding"
)

// DefaultCollection 默认集合名
const DefaultCollection = "media_embeddings"

// Record 一条媒体向量记录。记录恒有两个命名向量,
// 缺内容的一侧用零向量占位, 后续更新描述时能原位替换。
type Record struct {
	PointID uint64                 `json:"point_id"`
	Vectors map[Space][]float32    `json:"vectors"`
	Payload map[string]interface{} `json:"payload"`
}

// Hit 单次检索命中
type Hit struct {
	PointID uint64                 `json:"point_id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// Store 向量数据库接口
type Store interface {
	// EnsureCollection 确保集合存在, 两个命名向量空间均为 cosine 距离
	EnsureCollection(ctx context.Context, dimension int) error
	// Upsert 写入或覆盖一条记录
	Upsert(ctx context.Context, rec *Record) error
	// Search 在指定向量空间内做近邻检索, 服务端按阈值过滤
	Search(ctx context.Context, space Space, query []float32, limit int, scoreThreshold float32) ([]Hit, error)
	// Retrieve 按点 ID 取回记录, 不存在返回 errors.ErrNotFound
	Retrieve(ctx context.Context, pointID uint64) (*Record, error)
	// Delete 删除记录, 不存在不算错误
	Delete(ctx context.Context, pointID uint64) error
	// Count 集合内记录数
	Count(ctx context.Context) (int, error)
	// Close 释放连接
	Close() error
}
