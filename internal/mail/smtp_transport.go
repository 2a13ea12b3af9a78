package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
)

// SMTP 安全模式
const (
	SecurityNone     = "none"
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
)

// SMTPTransport 基于 go-smtp 客户端的传输层实现
//
// 一次 Open 对应一条 SMTP 连接，Close 之前可以连续投递多封邮件。
type SMTPTransport struct {
	cfg       config.SMTPConfig
	tlsConfig *tls.Config
	sender    netmail.Address
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	client    *gosmtp.Client
	connected bool
}

// NewSMTPTransport 创建 SMTP 传输层
func NewSMTPTransport(cfg config.SMTPConfig, log *zap.Logger) *SMTPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &SMTPTransport{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		sender:    netmail.Address{Name: cfg.FromName, Address: cfg.FromAddress},
		log:       log.Named("smtp"),
		now:       time.Now,
	}
}

// Open 连接 SMTP 服务器，按配置协商 TLS 并认证
//
// AUTH 阶段的 530/534/535 应答归类为 ConnectAuthFailed，其余失败均为 ConnectTransient。
func (t *SMTPTransport) Open(ctx context.Context) ConnectResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		if t.connected && t.client.Noop() == nil {
			return ConnectResult{Status: ConnectOK}
		}
		t.closeLocked()
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return ConnectResult{Status: ConnectTransient, Err: fmt.Errorf("dial %s: %w", t.cfg.Address(), err)}
	}

	client, err := t.newClient(conn)
	if err != nil {
		return ConnectResult{Status: ConnectTransient, Err: err}
	}
	client.CommandTimeout = t.cfg.Timeout
	client.SubmissionTimeout = t.cfg.Timeout

	if t.cfg.Username != "" {
		auth := sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			if isAuthRejection(err) {
				return ConnectResult{Status: ConnectAuthFailed, Err: fmt.Errorf("auth: %w", err)}
			}
			return ConnectResult{Status: ConnectTransient, Err: fmt.Errorf("auth: %w", err)}
		}
	}

	t.client = client
	t.connected = true
	t.log.Debug("smtp connection opened", zap.String("server", t.cfg.Address()))
	return ConnectResult{Status: ConnectOK}
}

// newClient 建立 SMTP 会话
//
// starttls 模式由 go-smtp 完成 EHLO 与 STARTTLS，此时 helo_name 不生效。
func (t *SMTPTransport) newClient(conn net.Conn) (*gosmtp.Client, error) {
	if t.cfg.Security == SecurityStartTLS {
		if t.cfg.Timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(t.cfg.Timeout))
		}
		client, err := gosmtp.NewClientStartTLS(conn, t.tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
		_ = conn.SetDeadline(time.Time{})
		return client, nil
	}

	client := gosmtp.NewClient(conn)
	if err := client.Hello(t.cfg.HeloName); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	return client, nil
}

// Send 投递一封邮件
//
// 服务器以 4xx/5xx 拒绝时发送 RSET 并保持连接；网络错误会断开连接。
func (t *SMTPTransport) Send(ctx context.Context, msg *domain.EmailMessage, from string) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.client == nil {
		return ErrNotConnected
	}

	sender := t.sender
	if from != "" {
		sender.Address = from
	}
	raw, err := ComposeMessage(msg, sender, t.now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	if err := t.client.SendMail(sender.Address, msg.To, bytes.NewReader(raw)); err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code != 421 {
			if resetErr := t.client.Reset(); resetErr != nil {
				t.closeLocked()
			}
			return fmt.Errorf("smtp rejected message: %w", err)
		}
		t.closeLocked()
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Close 发送 QUIT 并关闭连接
func (t *SMTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Quit()
	if err != nil {
		_ = t.client.Close()
	}
	t.client = nil
	t.connected = false
	return err
}

// IsConnected 连接是否可用
func (t *SMTPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.cfg.Timeout}
	if t.cfg.Security == SecurityTLS {
		tlsDialer := tls.Dialer{NetDialer: &dialer, Config: t.tlsConfig}
		return tlsDialer.DialContext(ctx, "tcp", t.cfg.Address())
	}
	return dialer.DialContext(ctx, "tcp", t.cfg.Address())
}

func (t *SMTPTransport) closeLocked() {
	if t.client != nil {
		_ = t.client.Close()
	}
	t.client = nil
	t.connected = false
}

// isAuthRejection 判断是否为凭据被拒绝的应答
func isAuthRejection(err error) bool {
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return false
	}
	switch smtpErr.Code {
	case 530, 534, 535:
		return true
	default:
		return false
	}
}
