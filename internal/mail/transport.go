// Package mail 实现出站邮件的持久化队列与后台发送流水线。
//
// 组成:
//   - Queue: 高低两条优先级通道，入队前先落盘
//   - Sender: 单飞的发送流程，负责重试、死信和暂停
//   - Scheduler: 定时触发和高优先级即时触发
//   - Service: 业务层使用的入队门面
//   - Transport: 传输层抽象，SMTPTransport 为 SMTP 实现
package mail

import (
	"context"
	"errors"

	"lessonplan/backend/internal/domain"
)

// ErrNotConnected 传输层未连接
var ErrNotConnected = errors.New("transport not connected")

// ConnectStatus 建立连接的结果类型
type ConnectStatus int

const (
	// ConnectOK 连接成功
	ConnectOK ConnectStatus = iota
	// ConnectAuthFailed 认证失败，不可自动恢复
	ConnectAuthFailed
	// ConnectTransient 网络或协议层的临时故障
	ConnectTransient
)

func (s ConnectStatus) String() string {
	switch s {
	case ConnectOK:
		return "ok"
	case ConnectAuthFailed:
		return "auth_failed"
	case ConnectTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ConnectResult 是 Transport.Open 的返回值
//
// 发送流程根据 Status 选择永久停止还是临时暂停，而不是依赖错误类型判断。
type ConnectResult struct {
	Status ConnectStatus
	Err    error
}

// OK 是否连接成功
func (r ConnectResult) OK() bool {
	return r.Status == ConnectOK
}

// Transport 出站邮件传输层
//
// 同一时刻只有一个发送流程持有 Transport，实现不需要支持并发 Send。
type Transport interface {
	// Open 建立连接并完成认证
	Open(ctx context.Context) ConnectResult
	// Send 投递一封邮件，from 为信封发件人地址
	Send(ctx context.Context, msg *domain.EmailMessage, from string) error
	// Close 释放连接，未连接时返回 nil
	Close() error
	// IsConnected 连接是否仍然可用
	IsConnected() bool
}
