package mail

import (
	"sync"
	"time"

	"lessonplan/backend/internal/monitoring"
)

// permanentPause 永久停止时的暂停截止时间
var permanentPause = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// HealthSnapshot 发送器健康状态的只读副本
type HealthSnapshot struct {
	Active             bool       `json:"active"`
	LastError          string     `json:"lastError,omitempty"`
	LastErrorAt        *time.Time `json:"lastErrorAt,omitempty"`
	PausedUntil        *time.Time `json:"pausedUntil,omitempty"`
	PermanentlyStopped bool       `json:"permanentlyStopped"`
}

// IsPaused 在 now 时刻是否处于暂停
func (s HealthSnapshot) IsPaused(now time.Time) bool {
	if s.PermanentlyStopped {
		return true
	}
	return s.PausedUntil != nil && now.Before(*s.PausedUntil)
}

// State 返回 idle、sending、paused 或 stopped
func (s HealthSnapshot) State(now time.Time) string {
	switch {
	case s.PermanentlyStopped:
		return "stopped"
	case s.Active:
		return "sending"
	case s.IsPaused(now):
		return "paused"
	default:
		return "idle"
	}
}

func (s HealthSnapshot) metricState(now time.Time) int {
	switch s.State(now) {
	case "stopped":
		return monitoring.SenderStateStopped
	case "sending":
		return monitoring.SenderStateSending
	case "paused":
		return monitoring.SenderStatePaused
	default:
		return monitoring.SenderStateIdle
	}
}

// SenderHealth 发送流程与状态查询接口共享的健康状态
//
// 只有发送流程修改状态，其余组件通过 Snapshot 读取。
type SenderHealth struct {
	mu          sync.RWMutex
	active      bool
	lastError   string
	lastErrorAt time.Time
	pausedUntil time.Time
	stopped     bool
}

// NewSenderHealth 创建空闲状态的健康句柄
func NewSenderHealth() *SenderHealth {
	return &SenderHealth{}
}

// Snapshot 返回当前状态的副本
func (h *SenderHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := HealthSnapshot{
		Active:             h.active,
		LastError:          h.lastError,
		PermanentlyStopped: h.stopped,
	}
	if !h.lastErrorAt.IsZero() {
		at := h.lastErrorAt
		snap.LastErrorAt = &at
	}
	if !h.pausedUntil.IsZero() {
		until := h.pausedUntil
		snap.PausedUntil = &until
	}
	return snap
}

// IsPaused 在 now 时刻是否处于暂停（含永久停止）
func (h *SenderHealth) IsPaused(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped || now.Before(h.pausedUntil)
}

// IsStopped 是否已永久停止
func (h *SenderHealth) IsStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

func (h *SenderHealth) setActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = active
}

func (h *SenderHealth) recordError(err error, at time.Time) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
	h.lastErrorAt = at
}

// pauseUntil 临时暂停，永久停止后不再生效
func (h *SenderHealth) pauseUntil(until time.Time, err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.pausedUntil = until
	if err != nil {
		h.lastError = err.Error()
		h.lastErrorAt = at
	}
}

func (h *SenderHealth) stopPermanently(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.pausedUntil = permanentPause
	if err != nil {
		h.lastError = err.Error()
		h.lastErrorAt = at
	}
}
