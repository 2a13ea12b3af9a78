package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/storage/filesystem"
)

var errSendFailed = errors.New("451 temporary local problem")

// testClock 可手动推进的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTransport 记录投递结果的传输层
type fakeTransport struct {
	mu         sync.Mutex
	openResult ConnectResult
	// sendFunc 为空时投递成功
	sendFunc  func(msg *domain.EmailMessage) error
	connected bool
	opens     int
	closes    int
	sent      []*domain.EmailMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{openResult: ConnectResult{Status: ConnectOK}}
}

func (f *fakeTransport) Open(ctx context.Context) ConnectResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.connected = f.openResult.OK()
	return f.openResult
}

func (f *fakeTransport) Send(ctx context.Context, msg *domain.EmailMessage, from string) error {
	f.mu.Lock()
	send := f.sendFunc
	f.mu.Unlock()

	if send != nil {
		if err := send(msg); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.Clone())
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) setSendFunc(fn func(msg *domain.EmailMessage) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendFunc = fn
}

func (f *fakeTransport) setOpenResult(r ConnectResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openResult = r
}

func (f *fakeTransport) sentSubjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Subject)
	}
	return out
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// flakyStorage 可以让写入失败的存储
type flakyStorage struct {
	*filesystem.MessageStore
	mu         sync.Mutex
	failWrites bool
}

func (s *flakyStorage) Write(msg *domain.EmailMessage) error {
	s.mu.Lock()
	fail := s.failWrites
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.MessageStore.Write(msg)
}

func newTestStorage(t *testing.T) *filesystem.MessageStore {
	t.Helper()
	store, err := filesystem.NewMessageStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newTestQueue(t *testing.T) (*Queue, *filesystem.MessageStore) {
	t.Helper()
	store := newTestStorage(t)
	return NewQueue(store, nil, nil), store
}

func testEmailConfig() config.EmailConfig {
	return config.EmailConfig{
		RetryMaxCount:   3,
		PauseAfterError: 30 * time.Minute,
		MessageDelay:    0,
		PollingInterval: time.Minute,
		TriggerWorkers:  1,
		TriggerQueue:    4,
	}
}

type senderFixture struct {
	queue     *Queue
	store     *filesystem.MessageStore
	transport *fakeTransport
	health    *SenderHealth
	sender    *Sender
	clock     *testClock
}

func newSenderFixture(t *testing.T, cfg config.EmailConfig) *senderFixture {
	t.Helper()
	queue, store := newTestQueue(t)
	transport := newFakeTransport()
	health := NewSenderHealth()
	clock := newTestClock()

	sender := NewSender(queue, transport, health, cfg, "no-reply@lessonplan.test", nil, nil)
	sender.now = clock.Now
	queue.now = clock.Now

	return &senderFixture{
		queue:     queue,
		store:     store,
		transport: transport,
		health:    health,
		sender:    sender,
		clock:     clock,
	}
}

func newMessage(subject string, priority domain.EmailPriority) *domain.EmailMessage {
	return &domain.EmailMessage{
		Priority: priority,
		Subject:  subject,
		To:       []string{"teacher@example.com"},
		Body:     "body of " + subject,
	}
}
