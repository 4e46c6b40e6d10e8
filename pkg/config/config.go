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

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Search     SearchConfig     `mapstructure:"search"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	RateLimit    bool `mapstructure:"rate_limit"`
	RateLimitRPS int  `mapstructure:"rate_limit_rps"`
}

// EmbeddingConfig Embedding Provider 配置
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"`         // dashscope（默认）
	APIKey         string `mapstructure:"api_key"`          // 支持 ${ENV_VAR} 形式
	BaseURL        string `mapstructure:"base_url"`         // Provider API 地址
	Model          string `mapstructure:"model"`            // 如 multimodal-embedding-v1
	Dimension      int    `mapstructure:"dimension"`        // 向量维度，默认 1024
	Timeout        string `mapstructure:"timeout"`          // 单次调用超时
	MaxRetries     int    `mapstructure:"max_retries"`      // 瞬时错误重试上限，默认 3
	RetryBaseDelay string `mapstructure:"retry_base_delay"` // 指数退避基础间隔，默认 "2s"
	InterCallPause string `mapstructure:"inter_call_pause"` // 同一媒体文本→图像间隔，默认 "500ms"
	MaxImageBytes  int64  `mapstructure:"max_image_bytes"`  // 图像体积上限，默认 8MB
}

// StorageConfig 存储配置
type StorageConfig struct {
	Vector VectorConfig `mapstructure:"vector"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

// VectorConfig 向量存储配置（memory 为内置内存；qdrant 走 REST）
type VectorConfig struct {
	Type       string `mapstructure:"type"`       // memory | qdrant
	Addr       string `mapstructure:"addr"`       // Qdrant 地址，如 http://localhost:6333
	APIKey     string `mapstructure:"api_key"`    // Qdrant API Key，可选
	Collection string `mapstructure:"collection"` // 集合名，默认 media_embeddings
}

// CacheConfig Embedding 结果缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"` // 缓存过期时间，如 "24h"；空则不过期
}

// QueueConfig 任务队列与 Worker 池配置
type QueueConfig struct {
	Workers      int           `mapstructure:"workers"`       // 并发 worker 数，默认 3
	MaxRetries   int           `mapstructure:"max_retries"`   // 任务最大重试次数，默认 3
	PollInterval string        `mapstructure:"poll_interval"` // 队列空/限流时的轮询间隔，默认 "1s"
	Journal      JournalConfig `mapstructure:"journal"`
}

// JournalConfig 任务日志持久化配置（重启回放 pending 任务）
type JournalConfig struct {
	Type string `mapstructure:"type"` // none | postgres
	DSN  string `mapstructure:"dsn"`  // type=postgres 时必填
}

// RateLimitConfig Provider 调用配额（滑动窗口 + 自适应）
type RateLimitConfig struct {
	MaxCalls       int    `mapstructure:"max_calls"`       // 窗口内最大调用数，默认 120
	Window         string `mapstructure:"window"`          // 窗口长度，默认 "60s"
	MinCalls       int    `mapstructure:"min_calls"`       // 自适应下限，默认 60
	Adaptive       bool   `mapstructure:"adaptive"`        // 是否启用自适应调节
	AdjustInterval string `mapstructure:"adjust_interval"` // 调节周期，默认 "60s"
}

// SearchConfig 搜索配置；阈值为固定运维参数，不接受调用方传入
type SearchConfig struct {
	ScoreThreshold float64 `mapstructure:"score_threshold"` // 两路召回共用阈值，默认 0.5
	DefaultLimit   int     `mapstructure:"default_limit"`   // 默认返回条数，默认 20
	MaxLimit       int     `mapstructure:"max_limit"`       // 上限，默认 100
}

// SecretsConfig Secret Store 配置（provider api key 可从此读取）
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault
	Options  map[string]string `mapstructure:"options"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	// 替换环境变量
	replaceEnvVars(&config)

	return &config, nil
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// replaceEnvVars 替换配置中 ${VAR} 形式的敏感值
func replaceEnvVars(config *Config) {
	config.Embedding.APIKey = expandEnv(config.Embedding.APIKey)
	config.Storage.Vector.APIKey = expandEnv(config.Storage.Vector.APIKey)
	config.Storage.Cache.Password = expandEnv(config.Storage.Cache.Password)
	config.Queue.Journal.DSN = expandEnv(config.Queue.Journal.DSN)
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "$") {
		envVar := strings.TrimPrefix(strings.TrimSuffix(v, "}"), "${")
		if val := os.Getenv(envVar); val != "" {
			return val
		}
	}
	return v
}
