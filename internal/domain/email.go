package domain

import "time"

// EmailPriority 出站邮件优先级
type EmailPriority string

const (
	PriorityNormal EmailPriority = "normal"
	PriorityHigh   EmailPriority = "high"
)

// EmailAttachment 出站邮件附件
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"` // JSON 中以 base64 编码
}

// EmailMessage 表示一封待发送的邮件
//
// 持久化存储是消息的唯一事实来源；内存队列只是启动时从存储重建的工作集。
type EmailMessage struct {
	ID            string             `json:"id"`
	CreatedAt     time.Time          `json:"createdAt"`
	Priority      EmailPriority      `json:"priority"`
	IsHTML        bool               `json:"isHtml"`
	Subject       string             `json:"subject"`
	To            []string           `json:"to"`
	Body          string             `json:"body"`
	Attachments   []*EmailAttachment `json:"attachments,omitempty"`
	RetryCount    int                `json:"retryCount"`
	LastError     string             `json:"lastError,omitempty"`
	LastAttemptAt *time.Time         `json:"lastAttemptAt,omitempty"`
}

// IsHighPriority 是否为高优先级邮件（激活码、重置码等时效性邮件）
func (m *EmailMessage) IsHighPriority() bool {
	return m.Priority == PriorityHigh
}

// RecordFailure 记录一次发送失败，重试次数只增不减
func (m *EmailMessage) RecordFailure(err error, at time.Time) {
	m.RetryCount++
	if err != nil {
		m.LastError = err.Error()
	}
	attempt := at
	m.LastAttemptAt = &attempt
}

// Clone 返回深拷贝，避免调用方与队列共享可变状态
func (m *EmailMessage) Clone() *EmailMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.To = append([]string(nil), m.To...)
	if m.LastAttemptAt != nil {
		at := *m.LastAttemptAt
		out.LastAttemptAt = &at
	}
	if m.Attachments != nil {
		out.Attachments = make([]*EmailAttachment, len(m.Attachments))
		for i, a := range m.Attachments {
			if a == nil {
				continue
			}
			cp := *a
			cp.Content = append([]byte(nil), a.Content...)
			out.Attachments[i] = &cp
		}
	}
	return &out
}
