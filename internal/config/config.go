package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Feed
	FeedURL          string
	FeedAllowPrivate bool
	PollInterval     time.Duration
	FetchTimeout     time.Duration
	FetchMaxSize     int64

	// 日次カウンタのリセット判定とスケジューラに使うタイムゾーン
	Location *time.Location

	// Rate Limit (リクエスト数/分)
	RateLimitGeneral int
	RateLimitSetup   int

	// Maintenance
	StateRetentionDays int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// LoadDotEnv は.envファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".envの読み込みに失敗しました: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合やTIMEZONEが解釈できない場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.FeedURL = os.Getenv("FEED_URL")
	if cfg.FeedURL == "" {
		missing = append(missing, "FEED_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	loc, err := getEnvLocation("TIMEZONE", time.Local)
	if err != nil {
		return nil, err
	}
	cfg.Location = loc

	cfg.FeedAllowPrivate = getEnvBool("FEED_ALLOW_PRIVATE", false)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 5*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSetup = getEnvInt("RATE_LIMIT_SETUP", 10)
	cfg.StateRetentionDays = getEnvInt("STATE_RETENTION_DAYS", 30)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
		return defaultVal
	}
	return level
}

func getEnvLocation(key string, defaultVal *time.Location) (*time.Location, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return loc, nil
}
