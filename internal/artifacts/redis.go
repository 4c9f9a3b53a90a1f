package artifacts

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 索引
// =============================================================================

// RedisConfig Redis 索引配置
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	TLS       bool          `yaml:"tls" json:"tls"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// RedisIndex 记录保存为 JSON，TTL 等于保留期
type RedisIndex struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisIndex 连接 Redis 并校验连通性
func NewRedisIndex(config RedisConfig, logger *zap.Logger) (*RedisIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}
	if config.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	idx := &RedisIndex{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "artifact_index")),
	}
	idx.logger.Info("artifact index initialized",
		zap.String("backend", "redis"),
		zap.String("addr", config.Addr),
		zap.Duration("retention", config.Retention),
	)
	return idx, nil
}

func (r *RedisIndex) key(filename string) string {
	return r.config.KeyPrefix + filename
}

func (r *RedisIndex) checkOpen() error {
	if r.closed {
		return fmt.Errorf("artifact index is closed")
	}
	return nil
}

// Put 写入记录，retention 为 0 时不设置过期
func (r *RedisIndex) Put(ctx context.Context, rec Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.Filename), data, r.config.Retention).Err(); err != nil {
		return fmt.Errorf("artifact index put failed: %w", err)
	}
	return nil
}

// Get 读取记录
func (r *RedisIndex) Get(ctx context.Context, filename string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	val, err := r.client.Get(ctx, r.key(filename)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact index get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact record: %w", err)
	}
	return &rec, nil
}

// Delete 删除记录
func (r *RedisIndex) Delete(ctx context.Context, filename string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(filename)).Err(); err != nil {
		return fmt.Errorf("artifact index delete failed: %w", err)
	}
	return nil
}

// Count 通过 SCAN 统计前缀下的键
func (r *RedisIndex) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("artifact index scan failed: %w", err)
	}
	return n, nil
}

// Ping 检查 Redis 连接
func (r *RedisIndex) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.client.Ping(ctx).Err()
}

// Close 关闭连接
func (r *RedisIndex) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.logger.Info("closing artifact index")
	return r.client.Close()
}
