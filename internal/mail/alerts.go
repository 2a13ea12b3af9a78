package mail

import (
	"fmt"
	"time"

	"lessonplan/backend/internal/monitoring"
)

// SenderStoppedRule 发送器永久停止（SMTP 认证失败）时告警
func SenderStoppedRule(health *SenderHealth) monitoring.AlertRule {
	return monitoring.AlertRule{
		ID:   "email_sender_stopped",
		Name: "Email sender stopped",
		Condition: func() (bool, string) {
			snap := health.Snapshot()
			if !snap.PermanentlyStopped {
				return false, ""
			}
			return true, fmt.Sprintf("sending stopped until restart: %s", snap.LastError)
		},
		Level:     monitoring.AlertLevelCritical,
		Component: "email",
		Cooldown:  time.Hour,
	}
}

// SenderPausedRule 发送器临时暂停时告警
func SenderPausedRule(health *SenderHealth) monitoring.AlertRule {
	return monitoring.AlertRule{
		ID:   "email_sender_paused",
		Name: "Email sender paused",
		Condition: func() (bool, string) {
			snap := health.Snapshot()
			if snap.PermanentlyStopped || !snap.IsPaused(time.Now()) {
				return false, ""
			}
			return true, fmt.Sprintf("paused until %s: %s", snap.PausedUntil.Format(time.RFC3339), snap.LastError)
		},
		Level:     monitoring.AlertLevelWarning,
		Component: "email",
		Cooldown:  10 * time.Minute,
	}
}

// QueueBacklogRule 队列积压超过阈值时告警
func QueueBacklogRule(queue *Queue, threshold int) monitoring.AlertRule {
	return monitoring.AlertRule{
		ID:   "email_queue_backlog",
		Name: "Email queue backlog",
		Condition: func() (bool, string) {
			count := queue.Count()
			if count <= threshold {
				return false, ""
			}
			return true, fmt.Sprintf("%d messages queued (threshold %d)", count, threshold)
		},
		Level:     monitoring.AlertLevelWarning,
		Component: "email",
		Cooldown:  10 * time.Minute,
	}
}
