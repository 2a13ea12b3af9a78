package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lessonplan/backend/internal/mail"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	defaultCheckTimeout = 3 * time.Second
	maxGoroutines       = 10000
)

// CheckResult 单项检查结果
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report 健康报告
type Report struct {
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []CheckResult `json:"checks"`
}

type namedCheck struct {
	name     string
	check    healthcheck.Check
	critical bool
}

// Checker 健康检查器
//
// 关键检查参与 /ready 判定，非关键检查只在报告中表现为 degraded。
type Checker struct {
	handler   healthcheck.Handler
	logger    *zap.Logger
	startTime time.Time
	version   string

	mu     sync.RWMutex
	checks []namedCheck
}

// NewChecker 创建健康检查器，reg 不为空时各项检查结果同时导出为 Prometheus 指标
func NewChecker(version string, reg prometheus.Registerer, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	var handler healthcheck.Handler
	if reg != nil {
		handler = healthcheck.NewMetricsHandler(reg, "lessonplan")
	} else {
		handler = healthcheck.NewHandler()
	}

	c := &Checker{
		handler:   handler,
		logger:    logger.Named("health"),
		startTime: time.Now(),
		version:   version,
	}
	c.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	return c
}

// AddReadinessCheck 添加关键检查，失败时服务不就绪
func (c *Checker) AddReadinessCheck(name string, check healthcheck.Check) {
	check = healthcheck.Timeout(check, defaultCheckTimeout)
	c.handler.AddReadinessCheck(name, check)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check, critical: true})
}

// AddReportCheck 添加非关键检查，只影响报告
func (c *Checker) AddReportCheck(name string, check healthcheck.Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: healthcheck.Timeout(check, defaultCheckTimeout)})
}

// LiveEndpoint 存活探针
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.ReadyEndpoint(w, r)
}

// Report 执行全部检查并汇总
func (c *Checker) Report() *Report {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(c.startTime),
		Version:   c.version,
		Checks:    make([]CheckResult, 0, len(checks)),
	}

	for _, nc := range checks {
		start := time.Now()
		err := nc.check()
		result := CheckResult{Name: nc.name, Status: StatusHealthy, Duration: time.Since(start)}

		if err != nil {
			result.Message = err.Error()
			if nc.critical {
				result.Status = StatusUnhealthy
				report.Status = StatusUnhealthy
			} else {
				result.Status = StatusDegraded
				if report.Status == StatusHealthy {
					report.Status = StatusDegraded
				}
			}
			c.logger.Debug("health check failed", zap.String("check", nc.name), zap.Error(err))
		}
		report.Checks = append(report.Checks, result)
	}

	sort.Slice(report.Checks, func(i, j int) bool { return report.Checks[i].Name < report.Checks[j].Name })
	return report
}

// SenderCheck 发送器暂停或永久停止时返回错误
func SenderCheck(health *mail.SenderHealth) healthcheck.Check {
	return func() error {
		snap := health.Snapshot()
		switch {
		case snap.PermanentlyStopped:
			return fmt.Errorf("email sender stopped: %s", snap.LastError)
		case snap.IsPaused(time.Now()):
			return fmt.Errorf("email sender paused until %s: %s", snap.PausedUntil.Format(time.RFC3339), snap.LastError)
		default:
			return nil
		}
	}
}

// PingCheck 把带上下文的探测函数（数据库、Redis）包装为检查
func PingCheck(ping func(ctx context.Context) error) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCheckTimeout)
		defer cancel()
		return ping(ctx)
	}
}

// QueueStorageCheck 持久化队列目录不可读时返回错误
func QueueStorageCheck(stats func() (int, error)) healthcheck.Check {
	return func() error {
		if _, err := stats(); err != nil {
			return errors.Join(errors.New("email queue storage unavailable"), err)
		}
		return nil
	}
}
