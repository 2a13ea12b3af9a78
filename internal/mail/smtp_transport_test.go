package mail

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
)

const (
	testSMTPUser     = "mailer"
	testSMTPPassword = "s3cret"
	rejectedRcpt     = "blocked@example.com"
)

// sinkBackend 记录收到邮件的 SMTP 服务端
type sinkBackend struct {
	mu       sync.Mutex
	received []receivedMail
}

type receivedMail struct {
	from string
	to   []string
	data string
}

func (b *sinkBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &sinkSession{backend: b}, nil
}

func (b *sinkBackend) messages() []receivedMail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedMail(nil), b.received...)
}

type sinkSession struct {
	backend *sinkBackend
	from    string
	to      []string
}

func (s *sinkSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *sinkSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != testSMTPUser || password != testSMTPPassword {
			return gosmtp.ErrAuthFailed
		}
		return nil
	}), nil
}

func (s *sinkSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *sinkSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if to == rejectedRcpt {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *sinkSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.received = append(s.backend.received, receivedMail{from: s.from, to: s.to, data: string(data)})
	return nil
}

func (s *sinkSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *sinkSession) Logout() error {
	return nil
}

// startSMTPServer 在本地随机端口启动测试 SMTP 服务
func startSMTPServer(t *testing.T) (*sinkBackend, config.SMTPConfig) {
	t.Helper()
	return startSMTPServerWithTLS(t, nil)
}

// startSMTPServerWithTLS tlsConfig 非空时服务端支持 STARTTLS
func startSMTPServerWithTLS(t *testing.T, tlsConfig *tls.Config) (*sinkBackend, config.SMTPConfig) {
	t.Helper()
	backend := &sinkBackend{}

	server := gosmtp.NewServer(backend)
	server.TLSConfig = tlsConfig
	server.Domain = "localhost"
	server.AllowInsecureAuth = true
	server.ReadTimeout = 5 * time.Second
	server.WriteTimeout = 5 * time.Second

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(func() { _ = server.Close() })

	return backend, smtpConfigFor(t, listener.Addr().String())
}

// selfSignedCert 生成 127.0.0.1 的自签名证书，返回服务端配置和信任该证书的根池
func selfSignedCert(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	serverConfig := &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
	return serverConfig, roots
}

func smtpConfigFor(t *testing.T, addr string) config.SMTPConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	return config.SMTPConfig{
		Host:        host,
		Port:        port,
		Username:    testSMTPUser,
		Password:    testSMTPPassword,
		FromAddress: "no-reply@lessonplan.test",
		FromName:    "Lesson Planner",
		Security:    SecurityNone,
		HeloName:    "localhost",
		Timeout:     5 * time.Second,
	}
}

func testSMTPMessage(to ...string) *domain.EmailMessage {
	return &domain.EmailMessage{
		ID:      uuid.NewString(),
		Subject: "Password reset",
		To:      to,
		Body:    "Your code is 654321",
	}
}

func TestSMTPTransport_OpenSendClose(t *testing.T) {
	backend, cfg := startSMTPServer(t)
	transport := NewSMTPTransport(cfg, nil)

	result := transport.Open(context.Background())
	require.True(t, result.OK(), "open failed: %v", result.Err)
	assert.True(t, transport.IsConnected())

	require.NoError(t, transport.Send(context.Background(), testSMTPMessage("teacher@example.com"), cfg.FromAddress))
	require.NoError(t, transport.Send(context.Background(), testSMTPMessage("admin@example.com"), cfg.FromAddress))

	assert.NoError(t, transport.Close())
	assert.False(t, transport.IsConnected())

	received := backend.messages()
	require.Len(t, received, 2)
	assert.Equal(t, cfg.FromAddress, received[0].from)
	assert.Equal(t, []string{"teacher@example.com"}, received[0].to)
	assert.Contains(t, received[0].data, "Subject: Password reset")
	assert.Contains(t, received[0].data, "Your code is 654321")
	assert.Equal(t, []string{"admin@example.com"}, received[1].to)
}

func TestSMTPTransport_StartTLS(t *testing.T) {
	serverTLS, roots := selfSignedCert(t)
	backend, cfg := startSMTPServerWithTLS(t, serverTLS)
	cfg.Security = SecurityStartTLS

	transport := NewSMTPTransport(cfg, nil)
	transport.tlsConfig = &tls.Config{ServerName: cfg.Host, RootCAs: roots, MinVersion: tls.VersionTLS12}

	result := transport.Open(context.Background())
	require.True(t, result.OK(), "open failed: %v", result.Err)
	defer transport.Close()

	_, encrypted := transport.client.TLSConnectionState()
	assert.True(t, encrypted)

	require.NoError(t, transport.Send(context.Background(), testSMTPMessage("teacher@example.com"), cfg.FromAddress))
	received := backend.messages()
	require.Len(t, received, 1)
	assert.Contains(t, received[0].data, "Your code is 654321")
}

func TestSMTPTransport_StartTLSUnsupported(t *testing.T) {
	_, cfg := startSMTPServer(t)
	cfg.Security = SecurityStartTLS

	transport := NewSMTPTransport(cfg, nil)
	result := transport.Open(context.Background())

	assert.Equal(t, ConnectTransient, result.Status)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "starttls")
	assert.False(t, transport.IsConnected())
}

func TestSMTPTransport_StartTLSUntrustedCertificate(t *testing.T) {
	serverTLS, _ := selfSignedCert(t)
	_, cfg := startSMTPServerWithTLS(t, serverTLS)
	cfg.Security = SecurityStartTLS

	transport := NewSMTPTransport(cfg, nil)
	result := transport.Open(context.Background())

	assert.Equal(t, ConnectTransient, result.Status)
	assert.Error(t, result.Err)
	assert.False(t, transport.IsConnected())
}

func TestSMTPTransport_AuthFailure(t *testing.T) {
	_, cfg := startSMTPServer(t)
	cfg.Password = "wrong"
	transport := NewSMTPTransport(cfg, nil)

	result := transport.Open(context.Background())
	assert.Equal(t, ConnectAuthFailed, result.Status)
	require.Error(t, result.Err)
	assert.False(t, transport.IsConnected())
}

func TestSMTPTransport_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	transport := NewSMTPTransport(smtpConfigFor(t, addr), nil)
	result := transport.Open(context.Background())

	assert.Equal(t, ConnectTransient, result.Status)
	assert.Error(t, result.Err)
	assert.False(t, transport.IsConnected())
}

func TestSMTPTransport_RejectedRecipientKeepsConnection(t *testing.T) {
	backend, cfg := startSMTPServer(t)
	transport := NewSMTPTransport(cfg, nil)
	require.True(t, transport.Open(context.Background()).OK())
	defer transport.Close()

	err := transport.Send(context.Background(), testSMTPMessage(rejectedRcpt), cfg.FromAddress)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "550"))
	assert.True(t, transport.IsConnected())

	require.NoError(t, transport.Send(context.Background(), testSMTPMessage("teacher@example.com"), cfg.FromAddress))
	assert.Len(t, backend.messages(), 1)
}

func TestSMTPTransport_SendRequiresOpen(t *testing.T) {
	_, cfg := startSMTPServer(t)
	transport := NewSMTPTransport(cfg, nil)

	err := transport.Send(context.Background(), testSMTPMessage("teacher@example.com"), cfg.FromAddress)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, transport.Close())
}

func TestSMTPTransport_DrivesSender(t *testing.T) {
	backend, cfg := startSMTPServer(t)
	queue, store := newTestQueue(t)
	sender := NewSender(queue, NewSMTPTransport(cfg, nil), NewSenderHealth(), testEmailConfig(), cfg.FromAddress, nil, nil)

	require.NoError(t, queue.Enqueue(testSMTPMessage("teacher@example.com")))
	require.NoError(t, queue.Enqueue(testSMTPMessage(rejectedRcpt)))

	sender.ProcessQueue(context.Background())

	assert.Len(t, backend.messages(), 1)
	assert.Equal(t, 1, queue.Count(), "rejected message waits for the next pass")
	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, sender.Health().IsPaused(time.Now()))
}
