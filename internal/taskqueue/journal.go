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

package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReplayEntry 重启回放时重建任务所需的最小信息
type ReplayEntry struct {
	TaskID     string
	Payload    Payload
	Priority   Priority
	MaxRetries int
}

// Journal 任务日志。进程内队列本身不持久化, 配置了 journal 的部署
// 把任务写入持久存储, 重启后回放 pending/processing 的任务。
// journal 写失败只记日志, 不影响队列本身。
type Journal interface {
	// Record 记录新任务
	Record(ctx context.Context, task *Task) error
	// UpdateStatus 同步任务状态变化
	UpdateStatus(ctx context.Context, view View) error
	// ReplayPending 列出上次进程遗留的未完成任务
	ReplayPending(ctx context.Context) ([]ReplayEntry, error)
	// Supersede 标记旧任务已由回放产生的新任务接替
	Supersede(ctx context.Context, oldID, newID string) error
	// Close 释放底层连接
	Close()
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS media_tasks (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    priority      INT NOT NULL,
    payload       JSONB NOT NULL,
    status        TEXT NOT NULL,
    retry_count   INT NOT NULL DEFAULT 0,
    max_retries   INT NOT NULL DEFAULT 3,
    error         TEXT,
    result        JSONB,
    superseded_by TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS media_tasks_status_idx ON media_tasks (status) WHERE superseded_by IS NULL;
`

// postgresJournal PostgreSQL 任务日志
type postgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal 连接 PostgreSQL 并确保表结构存在
func NewPostgresJournal(ctx context.Context, dsn string) (Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, journalSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return &postgresJournal{pool: pool}, nil
}

func (j *postgresJournal) Record(ctx context.Context, task *Task) error {
	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO media_tasks (id, kind, priority, payload, status, retry_count, max_retries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, string(task.Kind), int(task.Priority), payloadJSON,
		string(task.Status), task.RetryCount, task.MaxRetries, task.CreatedAt,
	)
	return err
}

func (j *postgresJournal) UpdateStatus(ctx context.Context, view View) error {
	var resultJSON []byte
	if view.Result != nil {
		resultJSON, _ = json.Marshal(view.Result)
	}
	_, err := j.pool.Exec(ctx,
		`UPDATE media_tasks
		 SET status = $1, retry_count = $2, error = NULLIF($3, ''), result = $4, updated_at = now()
		 WHERE id = $5`,
		string(view.Status), view.RetryCount, view.Error, resultJSON, view.TaskID,
	)
	return err
}

func (j *postgresJournal) ReplayPending(ctx context.Context) ([]ReplayEntry, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, kind, priority, payload, max_retries
		 FROM media_tasks
		 WHERE status IN ('pending', 'processing') AND superseded_by IS NULL
		 ORDER BY priority, created_at`,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var entries []ReplayEntry
	for rows.Next() {
		var (
			id, kind     string
			priority     int
			payloadBytes []byte
			maxRetries   int
		)
		if err := rows.Scan(&id, &kind, &priority, &payloadBytes, &maxRetries); err != nil {
			return nil, err
		}
		payload, err := decodePayload(Kind(kind), payloadBytes)
		if err != nil {
			// 无法解码的历史记录跳过, 不阻塞启动
			continue
		}
		entries = append(entries, ReplayEntry{
			TaskID:     id,
			Payload:    payload,
			Priority:   Priority(priority),
			MaxRetries: maxRetries,
		})
	}
	return entries, rows.Err()
}

func (j *postgresJournal) Supersede(ctx context.Context, oldID, newID string) error {
	_, err := j.pool.Exec(ctx,
		`UPDATE media_tasks
		 SET status = $1, superseded_by = $2, updated_at = now()
		 WHERE id = $3`,
		string(StatusCancelled), newID, oldID,
	)
	return err
}

func (j *postgresJournal) Close() {
	j.pool.Close()
}

// decodePayload 按任务种类重建载荷变体
func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindUploadEmbedding:
		var p UploadPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindDescriptionUpdate:
		var p DescriptionUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindSearchEmbedding:
		var p SearchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}
