package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lessonplan/backend/internal/cache"
)

// 单次缓存操作的超时时间，Store 接口本身不携带 ctx
const opTimeout = 2 * time.Second

// getAndSlide 读取条目，滑动条目在同一脚本内续期
//
// 续期依据的是本次读到的信封，并发 Set 覆盖后的绝对过期条目不会被延长。
var getAndSlide = goredis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return false
end
local ok, env = pcall(cjson.decode, data)
if ok and type(env) == 'table' and env.sliding == true then
	local ttl = tonumber(env.ttl_ms)
	if ttl and ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], tostring(math.floor(ttl)))
	end
end
return data
`)

// Store 基于 Redis 的过期存储，实现 cache.Store
//
// 值以 JSON 信封保存，信封内记录过期策略；Redis 键本身的 PX 过期
// 负责删除。滑动条目的读取和续期由 getAndSlide 原子完成。
type Store[V any] struct {
	client    *Client
	namespace string
	log       *zap.Logger
}

type envelope[V any] struct {
	Value   V     `json:"value"`
	Sliding bool  `json:"sliding"`
	TTLMs   int64 `json:"ttl_ms"`
}

var _ cache.Store[string] = (*Store[string])(nil)

// NewStore 创建 Redis 过期存储，namespace 用于区分会话和验证码等用途
func NewStore[V any](client *Client, namespace string) *Store[V] {
	return &Store[V]{
		client:    client,
		namespace: namespace,
		log:       client.log.Named("redis-store").With(zap.String("namespace", namespace)),
	}
}

// Set 写入条目，覆盖已存在的同名条目
func (s *Store[V]) Set(key string, value V, exp cache.Expiration) error {
	data, err := json.Marshal(envelope[V]{
		Value:   value,
		Sliding: exp.IsSliding(),
		TTLMs:   exp.TTL().Milliseconds(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return s.client.rdb.Set(ctx, s.client.Key(s.namespace, key), data, exp.TTL()).Err()
}

// TryGet 读取条目，Redis 故障按未找到处理并记录日志
func (s *Store[V]) TryGet(key string) (V, bool) {
	var zero V

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	fullKey := s.client.Key(s.namespace, key)
	data, err := getAndSlide.Run(ctx, s.client.rdb, []string{fullKey}).Text()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.log.Warn("redis get failed", zap.Error(err))
		}
		return zero, false
	}

	var env envelope[V]
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		s.log.Warn("discarding undecodable cache entry", zap.Error(err))
		s.client.rdb.Del(ctx, fullKey)
		return zero, false
	}

	return env.Value, true
}

// Remove 删除条目
func (s *Store[V]) Remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.rdb.Del(ctx, s.client.Key(s.namespace, key)).Err(); err != nil {
		s.log.Warn("redis del failed", zap.Error(err))
	}
}
