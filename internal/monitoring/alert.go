package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Level      AlertLevel `json:"level"`
	Component  string     `json:"component"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertRule 告警规则
//
// Condition 返回是否触发以及告警详情；条件恢复后告警自动解除。
type AlertRule struct {
	ID        string
	Name      string
	Condition func() (bool, string)
	Level     AlertLevel
	Component string
	Cooldown  time.Duration
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 告警管理器
//
// 同一规则在告警未解除期间不会重复发送，解除后需经过冷却时间才会再次触发。
type AlertManager struct {
	rules         []AlertRule
	receivers     []AlertReceiver
	alerts        map[string]*Alert
	lastTriggered map[string]time.Time
	logger        *zap.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		alerts:        make(map[string]*Alert),
		lastTriggered: make(map[string]time.Time),
		logger:        logger.Named("alert"),
		now:           time.Now,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// CheckRules 检查全部规则，触发新告警或解除已恢复的告警
func (am *AlertManager) CheckRules() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	for _, rule := range am.rules {
		firing, message := rule.Condition()
		active, exists := am.alerts[rule.ID]

		if !firing {
			if exists && !active.Resolved {
				resolvedAt := now
				active.Resolved = true
				active.ResolvedAt = &resolvedAt
				am.logger.Info("alert resolved", zap.String("alert_id", rule.ID))
			}
			continue
		}

		if exists && !active.Resolved {
			continue
		}
		if last, ok := am.lastTriggered[rule.ID]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}

		alert := &Alert{
			ID:        rule.ID,
			Title:     rule.Name,
			Message:   message,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: now,
		}
		am.alerts[rule.ID] = alert
		am.lastTriggered[rule.ID] = now

		for _, receiver := range am.receivers {
			if err := receiver.SendAlert(alert); err != nil {
				am.logger.Error("failed to send alert", zap.String("alert_id", alert.ID), zap.Error(err))
			}
		}
	}
}

// GetActiveAlerts 获取未解除的告警
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	alerts := make([]Alert, 0)
	for _, alert := range am.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// StartMonitoring 按间隔检查规则，直到 ctx 结束
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT", fields...)
	case AlertLevelWarning:
		lar.logger.Warn("WARNING ALERT", fields...)
	default:
		lar.logger.Info("INFO ALERT", fields...)
	}
	return nil
}
