package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"lessonplan/backend/internal/mail"
)

// QueueStatusProvider 邮件队列状态，由 mail.Service 实现
type QueueStatusProvider interface {
	QueueStatus() mail.QueueStatus
}

// EmailHandler 邮件队列管理接口
type EmailHandler struct {
	status QueueStatusProvider
}

// NewEmailHandler 创建邮件队列处理器
func NewEmailHandler(status QueueStatusProvider) *EmailHandler {
	return &EmailHandler{status: status}
}

type emailStatusResponse struct {
	Queued             int        `json:"queued"`
	State              string     `json:"state"`
	LastError          string     `json:"lastError,omitempty"`
	LastErrorAt        *time.Time `json:"lastErrorAt,omitempty"`
	PausedUntil        *time.Time `json:"pausedUntil,omitempty"`
	PermanentlyStopped bool       `json:"permanentlyStopped"`
}

// Status 返回队列长度和发送器状态
func (h *EmailHandler) Status(c *gin.Context) {
	status := h.status.QueueStatus()
	snap := status.Health

	resp := emailStatusResponse{
		Queued:             status.Queued,
		State:              snap.State(time.Now()),
		LastError:          snap.LastError,
		LastErrorAt:        snap.LastErrorAt,
		PermanentlyStopped: snap.PermanentlyStopped,
	}
	// 永久停止使用的哨兵时间不对外暴露
	if !snap.PermanentlyStopped {
		resp.PausedUntil = snap.PausedUntil
	}

	Success(c, resp)
}
