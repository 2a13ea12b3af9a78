// Package cache 提供带过期策略的键值存储，作为会话和一次性验证码的底座。
//
// 每个条目在写入时选择过期策略：
//   - 滑动过期：每次成功读取都会把截止时间推迟到 "当前时刻 + 时长"
//   - 绝对过期：截止时间在写入时确定，读取不会改变
//
// 过期条目采用惰性清理：读取时发现已过期即视为不存在并删除。
package cache

import "time"

// Expiration 条目过期策略
type Expiration struct {
	ttl     time.Duration
	sliding bool
}

// Sliding 创建滑动过期策略
func Sliding(ttl time.Duration) Expiration {
	return Expiration{ttl: ttl, sliding: true}
}

// Absolute 创建绝对过期策略
func Absolute(ttl time.Duration) Expiration {
	return Expiration{ttl: ttl}
}

// TTL 返回过期时长
func (e Expiration) TTL() time.Duration {
	return e.ttl
}

// IsSliding 是否为滑动过期
func (e Expiration) IsSliding() bool {
	return e.sliding
}

// Store 带过期策略的键值存储
//
// Set 覆盖同名条目；TryGet 对滑动条目续期，对绝对条目不做修改；
// Remove 对不存在的键不报错。实现必须支持并发调用。
type Store[V any] interface {
	Set(key string, value V, exp Expiration) error
	TryGet(key string) (V, bool)
	Remove(key string)
}
