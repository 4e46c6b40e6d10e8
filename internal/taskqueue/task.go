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

// Package taskqueue 提供优先级任务队列与 worker 调度。
package taskqueue

import (
	"time"
)

// Priority 任务优先级, 数值越小优先级越高
type Priority int

const (
	PriorityUrgent Priority = 1 // 搜索查询
	PriorityHigh   Priority = 2 // 描述更新
	PriorityNormal Priority = 3 // 上传 embedding 生成
	PriorityLow    Priority = 4 // 其他后台任务
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Status 任务状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Kind 任务种类
type Kind string

const (
	KindUploadEmbedding   Kind = "upload_embedding"
	KindDescriptionUpdate Kind = "description_update"
	// KindSearchEmbedding 搜索向量化。HTTP 搜索走同步路径不排队,
	// 这一种类供后台批量搜索类工作复用
	KindSearchEmbedding Kind = "search_embedding"
)

// Payload 任务载荷, 每个任务种类一个变体。
// 调度器按 Kind() 派发, 不做字符串键查表。
type Payload interface {
	Kind() Kind
}

// UploadPayload 上传后生成双模态 embedding
type UploadPayload struct {
	MediaID       string            `json:"media_id"`
	FilePath      string            `json:"file_path"`
	ThumbnailPath string            `json:"thumbnail_path,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (UploadPayload) Kind() Kind { return KindUploadEmbedding }

// DescriptionUpdatePayload 描述编辑后刷新文本 embedding
type DescriptionUpdatePayload struct {
	MediaID        string `json:"media_id"`
	NewDescription string `json:"new_description"`
	FilePath       string `json:"file_path,omitempty"`
}

func (DescriptionUpdatePayload) Kind() Kind { return KindDescriptionUpdate }

// SearchPayload 搜索查询向量化与检索
type SearchPayload struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (SearchPayload) Kind() Kind { return KindSearchEmbedding }

// DefaultPriorityFor 各任务种类的默认优先级
func DefaultPriorityFor(kind Kind) Priority {
	switch kind {
	case KindSearchEmbedding:
		return PriorityUrgent
	case KindDescriptionUpdate:
		return PriorityHigh
	case KindUploadEmbedding:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Task 一个待执行的工作单元。
// 出队到完成之间由唯一一个 worker 持有, 其余字段读写经过队列锁。
type Task struct {
	ID         string      `json:"task_id"`
	Kind       Kind        `json:"kind"`
	Priority   Priority    `json:"priority"`
	Payload    Payload     `json:"payload"`
	Status     Status      `json:"status"`
	RetryCount int         `json:"retry_count"`
	MaxRetries int         `json:"max_retries"`
	CreatedAt  time.Time   `json:"created_at"`
	LastError  string      `json:"error_message,omitempty"`
	Result     interface{} `json:"result,omitempty"`

	// seq 入队序号, 同优先级内先进先出; 重试重新入队拿新序号,
	// 排到同级队尾
	seq uint64
}

// View 任务状态对外快照
type View struct {
	TaskID     string      `json:"task_id"`
	Kind       Kind        `json:"kind"`
	Priority   string      `json:"priority"`
	Status     Status      `json:"status"`
	RetryCount int         `json:"retry_count"`
	MaxRetries int         `json:"max_retries"`
	CreatedAt  time.Time   `json:"created_at"`
	Error      string      `json:"error_message,omitempty"`
	Result     interface{} `json:"result,omitempty"`
}

func (t *Task) view() View {
	return View{
		TaskID:     t.ID,
		Kind:       t.Kind,
		Priority:   t.Priority.String(),
		Status:     t.Status,
		RetryCount: t.RetryCount,
		MaxRetries: t.MaxRetries,
		CreatedAt:  t.CreatedAt,
		Error:      t.LastError,
		Result:     t.Result,
	}
}
