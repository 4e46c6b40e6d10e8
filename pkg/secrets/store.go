// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string            `yaml:"provider"` // vault | env | memory
	Options  map[string]string `yaml:"options"`  // Provider-specific options
}

// NewStore 创建 Secret Store
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Options["address"],
			Token:      config.Options["token"],
			PathPrefix: config.Options["path_prefix"],
		})
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", config.Provider)
	}
}

// Resolve 解析配置值。以 "secret://" 开头的值从 Store 读取,
// 其余原样返回。
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	const scheme = "secret://"
	if !strings.HasPrefix(value, scheme) {
		return value, nil
	}
	key := strings.TrimPrefix(value, scheme)
	if key == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	return store.Get(ctx, key)
}
