// Package config 提供应用配置管理功能
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config 应用配置结构
type Config struct {
	// 服务器配置
	Port string `validate:"required,numeric"`

	// 数据库配置
	DBHost        string `validate:"required_without=DBSocketPath"`
	DBPort        string `validate:"required_without=DBSocketPath,omitempty,numeric"`
	DBSocketPath  string
	DBUser        string `validate:"required"`
	DBPassword    string
	DBName        string `validate:"required"`
	MigrationsDir string `validate:"required"`

	// 管理员账户
	AdminUsername string `validate:"required"`
	AdminPassword string `validate:"required,min=6"`

	// 采集入口令牌，为空时采集入口只接受管理员认证
	TapToken string `validate:"omitempty,min=16"`

	// 限流配置
	MaxAttempts int `validate:"min=1"`
	LockTime    int `validate:"min=1"` // 锁定时间（分钟）

	// 对局记录
	TrackingEnabled bool
	FormatOverride  string `validate:"max=64"`
	ArchiveDir      string
	RetentionDays   int `validate:"min=0"`

	// 日志
	LogFormat string `validate:"oneof=text json"`
	LogLevel  string `validate:"oneof=debug info warn error"`
}

// LoadEnvFile 从 .env 文件加载环境变量，已定义的环境变量不会被覆盖
func LoadEnvFile(filenames ...string) error {
	return godotenv.Load(filenames...)
}

// Load 从环境变量加载配置
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "11451"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBSocketPath:    getEnv("DB_SOCKET_PATH", ""),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "kb-tracker"),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "admin123"),
		TapToken:        strings.TrimSpace(getEnv("TAP_TOKEN", "")),
		MaxAttempts:     getEnvAsInt("MAX_ATTEMPTS", 5),
		LockTime:        getEnvAsInt("LOCK_TIME", 5),
		TrackingEnabled: getEnvAsBool("TRACKING_ENABLED", true),
		FormatOverride:  strings.TrimSpace(getEnv("FORMAT_OVERRIDE", "")),
		ArchiveDir:      getEnv("ARCHIVE_DIR", "archive"),
		RetentionDays:   getEnvAsInt("RETENTION_DAYS", 365),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

var validate = validator.New()

// Validate 校验配置
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s(%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, ", "))
}

// DatabaseDSN 返回数据库连接字符串
func (c *Config) DatabaseDSN() string {
	if c.DBSocketPath != "" {
		// Unix Socket 连接
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
			c.DBSocketPath, c.DBUser, c.DBPassword, c.DBName)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

// LockDuration 返回锁定时长
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.LockTime) * time.Minute
}

// Retention 返回记录保留时长，0 表示永久保留
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SlogLevel 将日志级别转为 slog.Level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 获取环境变量并转换为整数，如果不存在或转换失败则返回默认值
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool 获取布尔环境变量，如果不存在或转换失败则返回默认值
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
