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

// Package provider 封装外部多模态 embedding 服务。
// 错误在本边界内分类一次，上层只消费结构化的错误种类。
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Result 一次 embedding 调用的结果
type Result struct {
	Vector    []float32 `json:"vector"`
	Dimension int       `json:"dimension"`
	RequestID string    `json:"request_id"`
}

// Client 多模态 embedding 服务客户端
type Client interface {
	// EmbedText 将文本向量化。空文本由上层处理，这里视为 BadInput。
	EmbedText(ctx context.Context, text string) (*Result, error)

	// EmbedImage 将图像字节向量化。mime 为子类型, 如 "jpeg"、"png"。
	EmbedImage(ctx context.Context, data []byte, mime string) (*Result, error)

	// Dimension 返回该模型的向量维度
	Dimension() int
}

// ErrKind 闭合的错误种类枚举
type ErrKind int

const (
	KindUnknown ErrKind = iota
	// 瞬态错误, 可重试
	KindThrottled  // 对端限流
	KindInternal   // 对端 5xx / InternalError
	KindTimeout    // 请求超时
	KindConnection // 连接失败

	// 永久错误, 不重试
	KindInvalidKey // 凭证无效
	KindBadInput   // 输入格式非法
	KindOversized  // 载荷超过大小上限
)

func (k ErrKind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindInternal:
		return "internal"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindInvalidKey:
		return "invalid_key"
	case KindBadInput:
		return "bad_input"
	case KindOversized:
		return "oversized"
	default:
		return "unknown"
	}
}

// Transient 该种类的错误是否值得重试
func (k ErrKind) Transient() bool {
	switch k {
	case KindThrottled, KindInternal, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// Error 携带分类结果的 provider 错误
type Error struct {
	Kind    ErrKind
	Code    string // 对端返回的错误码, 可能为空
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s: %s - %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// KindOf 提取错误种类；非 provider 错误归为 Unknown
func KindOf(err error) ErrKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// IsThrottled 判断错误是否为对端限流
func IsThrottled(err error) bool {
	return KindOf(err) == KindThrottled
}
