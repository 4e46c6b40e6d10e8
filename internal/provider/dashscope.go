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

package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultModel 默认多模态 embedding 模型
	DefaultModel = "multimodal-embedding-v1"
	// DefaultDimension 默认向量维度
	DefaultDimension = 1024
	// DefaultBaseURL 默认服务地址
	DefaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"

	embeddingPath = "/services/embeddings/multimodal-embedding/multimodal-embedding"
)

// DashScopeConfig DashScope 客户端配置
type DashScopeConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DashScopeClient 阿里云 DashScope 多模态 embedding 客户端
type DashScopeClient struct {
	cfg    DashScopeConfig
	client *resty.Client
}

// NewDashScopeClient 创建 DashScope 客户端。
// 重试由上层编排器负责，这里不开 resty 自带重试，避免双重退避。
func NewDashScopeClient(cfg DashScopeConfig) (*DashScopeClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("DASHSCOPE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("dashscope api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)

	return &DashScopeClient{cfg: cfg, client: client}, nil
}

// Dimension 返回向量维度
func (c *DashScopeClient) Dimension() int {
	return c.cfg.Dimension
}

// EmbedText 文本向量化
func (c *DashScopeClient) EmbedText(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Kind: KindBadInput, Message: "empty text"}
	}
	return c.call(ctx, map[string]string{"text": text})
}

// EmbedImage 图像向量化。图像以 data URI 形式内联在请求里。
func (c *DashScopeClient) EmbedImage(ctx context.Context, data []byte, mime string) (*Result, error) {
	if len(data) == 0 {
		return nil, &Error{Kind: KindBadInput, Message: "empty image data"}
	}
	if mime == "" || mime == "jpg" {
		mime = "jpeg"
	}
	uri := fmt.Sprintf("data:image/%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	return c.call(ctx, map[string]string{"image": uri})
}

type embeddingRequest struct {
	Model string         `json:"model"`
	Input embeddingInput `json:"input"`
}

type embeddingInput struct {
	Contents []map[string]string `json:"contents"`
}

type embeddingResponse struct {
	Output struct {
		Embeddings []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
			Type      string    `json:"type"`
		} `json:"embeddings"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (c *DashScopeClient) call(ctx context.Context, content map[string]string) (*Result, error) {
	req := embeddingRequest{
		Model: c.cfg.Model,
		Input: embeddingInput{Contents: []map[string]string{content}},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.cfg.APIKey).
		SetBody(req).
		Post(c.cfg.BaseURL + embeddingPath)

	if err != nil {
		return nil, classifyTransport(err)
	}

	var out embeddingResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, classifyAPIError(resp.StatusCode(), out.Code, out.Message)
	}
	if len(out.Output.Embeddings) == 0 {
		return nil, &Error{Kind: KindInternal, Message: "response carries no embeddings"}
	}

	vec := out.Output.Embeddings[0].Embedding
	if len(vec) != c.cfg.Dimension {
		return nil, &Error{
			Kind:    KindInternal,
			Message: fmt.Sprintf("unexpected vector dimension %d, want %d", len(vec), c.cfg.Dimension),
		}
	}

	return &Result{
		Vector:    vec,
		Dimension: len(vec),
		RequestID: out.RequestID,
	}, nil
}

// classifyTransport 将传输层错误归入闭合种类
func classifyTransport(err error) *Error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Message: err.Error()}
	case strings.Contains(err.Error(), "context deadline exceeded"):
		return &Error{Kind: KindTimeout, Message: err.Error()}
	default:
		return &Error{Kind: KindConnection, Message: err.Error()}
	}
}

// classifyAPIError 将对端返回的错误归入闭合种类
func classifyAPIError(status int, code, message string) *Error {
	e := &Error{Code: code, Message: message}
	lower := strings.ToLower(message)

	switch {
	case status == http.StatusTooManyRequests,
		strings.HasPrefix(code, "Throttling"),
		strings.Contains(lower, "rate limit"):
		e.Kind = KindThrottled
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		code == "InvalidApiKey":
		e.Kind = KindInvalidKey
	case status == http.StatusRequestEntityTooLarge:
		e.Kind = KindOversized
	case status >= 500, code == "InternalError":
		e.Kind = KindInternal
	case status >= 400:
		e.Kind = KindBadInput
	default:
		e.Kind = KindUnknown
	}
	return e
}
