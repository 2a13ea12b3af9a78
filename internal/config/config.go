package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080

	SecureCookie bool // 会话 cookie 只通过 HTTPS 发送
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// SessionConfig 登录会话配置
type SessionConfig struct {
	Timeout time.Duration // 滑动过期时间，每次成功校验后从当前时刻重新计时
}

// TokenConfig 一次性验证码配置（账号激活、密码重置）
type TokenConfig struct {
	Expiration time.Duration // 绝对过期时间，从生成时刻开始计算，不会被刷新
	Digits     int           // 验证码位数
}

// CacheConfig 会话与验证码的存储后端配置
type CacheConfig struct {
	Backend       string        // "memory" 或 "redis"
	SweepInterval time.Duration // 内存后端的后台清理间隔，0 表示只做惰性清理
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address   string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password  string // Redis 认证密码，留空表示无密码
	DB        int    // Redis 数据库编号，默认 0
	KeyPrefix string // 键前缀，多个服务共享同一 Redis 时避免冲突
}

// DatabaseConfig 定义用户表所在数据库的连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string // 数据库类型: "mysql" 或 "postgres"，留空使用内存用户存储
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// EmailConfig 定义邮件队列与后台发送配置
type EmailConfig struct {
	RetryMaxCount   int           // 单封邮件最大重试次数，达到后移入死信区
	PauseAfterError time.Duration // 传输层临时故障后的暂停时长
	MessageDelay    time.Duration // 两封邮件之间的发送间隔（服务商限速）
	PollingInterval time.Duration // 后台轮询间隔
	DisableSending  bool          // 全局禁止发送
	StoragePath     string        // 持久化队列根目录
	TriggerWorkers  int           // 高优先级即时触发的协程数
	TriggerQueue    int           // 即时触发任务队列长度

	MaxAttachmentBytes int64 // 单个附件大小上限
}

// SMTPConfig 定义出站 SMTP 服务器配置
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Security    string // none, starttls, tls
	HeloName    string
	Timeout     time.Duration
}

// RateLimitConfig 登录与验证码接口的单 IP 限流配置
type RateLimitConfig struct {
	LoginPerMinute int
	Burst          int
}

// AlertConfig 后台告警检查配置
type AlertConfig struct {
	CheckInterval         time.Duration
	QueueBacklogThreshold int
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	Session   SessionConfig
	Token     TokenConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Email     EmailConfig
	SMTP      SMTPConfig
	RateLimit RateLimitConfig
	Alert     AlertConfig
}

// Address 返回 "host:port" 形式的 SMTP 地址
func (c SMTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: LESSONPLAN_，例如 LESSONPLAN_SESSION_TIMEOUT_SECONDS
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("lessonplan")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),

			SecureCookie: v.GetBool("server.secure_cookie"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Session: SessionConfig{
			Timeout: seconds(v.GetFloat64("session.timeout_seconds")),
		},
		Token: TokenConfig{
			Expiration: seconds(v.GetFloat64("token.expiration_seconds")),
			Digits:     v.GetInt("token.digits"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(v.GetString("cache.backend")),
		},
		Redis: RedisConfig{
			Address:   v.GetString("redis.address"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Database: DatabaseConfig{
			Type:         strings.ToLower(v.GetString("database.type")),
			DSN:          v.GetString("database.dsn"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		Email: EmailConfig{
			RetryMaxCount:   v.GetInt("email.retry_max_count"),
			PauseAfterError: time.Duration(v.GetFloat64("email.pause_after_error_minutes") * float64(time.Minute)),
			MessageDelay:    seconds(v.GetFloat64("email.delay_between_messages_seconds")),
			PollingInterval: seconds(v.GetFloat64("email.polling_frequency_seconds")),
			DisableSending:  v.GetBool("email.disable_sending"),
			StoragePath:     v.GetString("email.storage_path"),
			TriggerWorkers:  v.GetInt("email.trigger_workers"),
			TriggerQueue:    v.GetInt("email.trigger_queue_size"),

			MaxAttachmentBytes: v.GetInt64("email.max_attachment_bytes"),
		},
		SMTP: SMTPConfig{
			Host:        v.GetString("smtp.host"),
			Port:        v.GetInt("smtp.port"),
			Username:    v.GetString("smtp.username"),
			Password:    v.GetString("smtp.password"),
			FromAddress: v.GetString("smtp.from_address"),
			FromName:    v.GetString("smtp.from_name"),
			Security:    strings.ToLower(v.GetString("smtp.security")),
			HeloName:    v.GetString("smtp.helo_name"),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: v.GetInt("ratelimit.login_per_minute"),
			Burst:          v.GetInt("ratelimit.burst"),
		},
		Alert: AlertConfig{
			QueueBacklogThreshold: v.GetInt("alert.queue_backlog_threshold"),
		},
	}

	var err error
	if cfg.Cache.SweepInterval, err = time.ParseDuration(v.GetString("cache.sweep_interval")); err != nil {
		return nil, fmt.Errorf("invalid cache.sweep_interval: %w", err)
	}
	if cfg.Database.ConnMaxLifetime, err = time.ParseDuration(v.GetString("database.conn_max_lifetime")); err != nil {
		return nil, fmt.Errorf("invalid database.conn_max_lifetime: %w", err)
	}
	if cfg.SMTP.Timeout, err = time.ParseDuration(v.GetString("smtp.timeout")); err != nil {
		return nil, fmt.Errorf("invalid smtp.timeout: %w", err)
	}
	if cfg.Alert.CheckInterval, err = time.ParseDuration(v.GetString("alert.check_interval")); err != nil {
		return nil, fmt.Errorf("invalid alert.check_interval: %w", err)
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout_seconds must be positive")
	}
	if c.Token.Expiration <= 0 {
		return fmt.Errorf("token.expiration_seconds must be positive")
	}
	if c.Token.Digits < 4 || c.Token.Digits > 10 {
		return fmt.Errorf("token.digits must be between 4 and 10")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache.backend: %s (supported: memory, redis)", c.Cache.Backend)
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("cache.sweep_interval must not be negative")
	}
	switch c.Database.Type {
	case "", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.type: %s (supported: mysql, postgres)", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.type is set")
	}
	if c.Email.RetryMaxCount <= 0 {
		return fmt.Errorf("email.retry_max_count must be positive")
	}
	if c.Email.PauseAfterError <= 0 {
		return fmt.Errorf("email.pause_after_error_minutes must be positive")
	}
	if c.Email.MessageDelay < 0 {
		return fmt.Errorf("email.delay_between_messages_seconds must not be negative")
	}
	if c.Email.PollingInterval <= 0 {
		return fmt.Errorf("email.polling_frequency_seconds must be positive")
	}
	if c.Email.StoragePath == "" {
		return fmt.Errorf("email.storage_path must not be empty")
	}
	if c.Email.TriggerWorkers <= 0 || c.Email.TriggerQueue <= 0 {
		return fmt.Errorf("email.trigger_workers and email.trigger_queue_size must be positive")
	}
	if c.Email.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("email.max_attachment_bytes must be positive")
	}
	switch c.SMTP.Security {
	case "none", "starttls", "tls":
	default:
		return fmt.Errorf("unsupported smtp.security: %s (supported: none, starttls, tls)", c.SMTP.Security)
	}
	if c.RateLimit.LoginPerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.login_per_minute and ratelimit.burst must be positive")
	}
	if c.Alert.CheckInterval <= 0 {
		return fmt.Errorf("alert.check_interval must be positive")
	}
	if c.Alert.QueueBacklogThreshold <= 0 {
		return fmt.Errorf("alert.queue_backlog_threshold must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.secure_cookie", false)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("session.timeout_seconds", 600)
	v.SetDefault("token.expiration_seconds", 300)
	v.SetDefault("token.digits", 6)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "lessonplan")
	v.SetDefault("database.type", "") // 默认为空，使用内存用户存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("email.retry_max_count", 3)
	v.SetDefault("email.pause_after_error_minutes", 30)
	v.SetDefault("email.delay_between_messages_seconds", 1.0)
	v.SetDefault("email.polling_frequency_seconds", 60)
	v.SetDefault("email.disable_sending", false)
	v.SetDefault("email.storage_path", "./data/email-queue")
	v.SetDefault("email.trigger_workers", 1)
	v.SetDefault("email.trigger_queue_size", 16)
	v.SetDefault("email.max_attachment_bytes", 10*1024*1024)
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from_address", "no-reply@lessonplan.local")
	v.SetDefault("smtp.from_name", "Lesson Planner")
	v.SetDefault("smtp.security", "starttls")
	v.SetDefault("smtp.helo_name", "localhost")
	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("alert.check_interval", "1m")
	v.SetDefault("alert.queue_backlog_threshold", 500)
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
