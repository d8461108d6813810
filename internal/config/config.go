package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
//
// Environment Variables:
// HTTP:
// - PORT: listen port (default: 3000); HTTP_ADDR overrides the full address
// - UI_ENABLED: serve the static UI (default: true)
// - PUBLIC_DIR: static UI directory (default: ./public)
// - CORS_ALLOWED_ORIGINS: comma separated origins (default: *)
// - MAX_UPLOAD_MB: upload size limit (default: 500)
// - SHUTDOWN_TIMEOUT: graceful shutdown budget (default: 30s)
//
// Storage:
// - STORE_BACKEND: file | sqlite | redis | memory (default: file)
// - DATA_DIR: root for persisted data (default: ./data)
// - UPLOAD_DIR: where uploads are stored (default: ./uploads)
//
// Redis (STORE_BACKEND=redis or DISPATCH_BACKEND=asynq):
// - REDIS_ADDR (default: localhost:6379), REDIS_PASSWORD, REDIS_DB (default: 0)
// - REDIS_NAMESPACE: key prefix for the record store (optional)
//
// Engine:
// - ENGINE_COMMAND (default: python3), ENGINE_SCRIPT (default: script.py),
//   ENGINE_MODEL (optional)
//
// Dispatch:
// - DISPATCH_BACKEND: local | asynq (default: local)
// - WORKER_COUNT: 0 runs every job in its own goroutine (default: 0)
// - QUEUE_NAME (default: transcription), TASK_TIMEOUT (default: 2h)
//
// Sweeper:
// - SWEEP_CRON: cron expression, empty disables (default: 0 * * * *)
// - SWEEP_MAX_AGE: age after which uploads are removed (default: 24h)
//
// Logging:
// - LOG_LEVEL (default: info), LOG_FORMAT: json | console (default: json)
//
// Mode:
// - APP_MODE: all | api | worker (default: all)
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
	Redis    RedisConfig    `json:"redis"`
	Engine   EngineConfig   `json:"engine"`
	Dispatch DispatchConfig `json:"dispatch"`
	Sweep    SweepConfig    `json:"sweep"`
	Log      LogConfig      `json:"log"`
	Mode     Mode           `json:"mode"`
}

type HTTPConfig struct {
	Addr            string        `json:"addr"`
	UIEnabled       bool          `json:"ui_enabled"`
	PublicDir       string        `json:"public_dir"`
	CORSOrigins     []string      `json:"cors_origins"`
	MaxUploadMB     int           `json:"max_upload_mb"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// MaxUploadBytes is the upload limit in bytes.
func (c HTTPConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

type StorageConfig struct {
	Backend   string `json:"backend"`
	DataDir   string `json:"data_dir"`
	UploadDir string `json:"upload_dir"`
}

// RecordsDir holds one JSON file per record for the file backend.
func (c StorageConfig) RecordsDir() string {
	return filepath.Join(c.DataDir, "transcriptions")
}

// DBPath is the sqlite database for the sqlite backend.
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "transcriptions.db")
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	Namespace string `json:"namespace"`
}

type EngineConfig struct {
	Command string `json:"command"`
	Script  string `json:"script"`
	Model   string `json:"model"`
}

type DispatchConfig struct {
	Backend     string        `json:"backend"`
	WorkerCount int           `json:"worker_count"`
	QueueName   string        `json:"queue_name"`
	TaskTimeout time.Duration `json:"task_timeout"`
}

type SweepConfig struct {
	CronExpr string        `json:"cron_expr"`
	MaxAge   time.Duration `json:"max_age"`
}

// Enabled reports whether the upload sweeper should be scheduled.
func (c SweepConfig) Enabled() bool {
	return strings.TrimSpace(c.CronExpr) != ""
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Mode string

const (
	ModeAll    Mode = "all"
	ModeAPI    Mode = "api"
	ModeWorker Mode = "worker"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"

	DispatchLocal = "local"
	DispatchAsynq = "asynq"
)

// Option is a function type for configuring Config
type Option func(*Config)

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	port := getEnvString("PORT", "3000")
	config := &Config{
		HTTP: HTTPConfig{
			Addr:            getEnvString("HTTP_ADDR", ":"+port),
			UIEnabled:       getEnvBool("UI_ENABLED", true),
			PublicDir:       getEnvString("PUBLIC_DIR", "./public"),
			CORSOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			MaxUploadMB:     getEnvInt("MAX_UPLOAD_MB", 500),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(getEnvString("STORE_BACKEND", StoreFile)),
			DataDir:   getEnvString("DATA_DIR", "./data"),
			UploadDir: getEnvString("UPLOAD_DIR", "./uploads"),
		},
		Redis: RedisConfig{
			Addr:      getEnvString("REDIS_ADDR", "localhost:6379"),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			Namespace: getEnvString("REDIS_NAMESPACE", ""),
		},
		Engine: EngineConfig{
			Command: getEnvString("ENGINE_COMMAND", "python3"),
			Script:  getEnvStringAllowEmpty("ENGINE_SCRIPT", "script.py"),
			Model:   getEnvString("ENGINE_MODEL", ""),
		},
		Dispatch: DispatchConfig{
			Backend:     strings.ToLower(getEnvString("DISPATCH_BACKEND", DispatchLocal)),
			WorkerCount: getEnvInt("WORKER_COUNT", 0),
			QueueName:   getEnvString("QUEUE_NAME", "transcription"),
			TaskTimeout: getEnvDuration("TASK_TIMEOUT", 2*time.Hour),
		},
		Sweep: SweepConfig{
			CronExpr: getEnvStringAllowEmpty("SWEEP_CRON", "0 * * * *"),
			MaxAge:   getEnvDuration("SWEEP_MAX_AGE", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Mode: Mode(strings.ToLower(getEnvString("APP_MODE", string(ModeAll)))),
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks enumerations and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StoreFile, StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Dispatch.Backend {
	case DispatchLocal, DispatchAsynq:
	default:
		return fmt.Errorf("invalid DISPATCH_BACKEND %q", c.Dispatch.Backend)
	}
	switch c.Mode {
	case ModeAll:
	case ModeAPI, ModeWorker:
		if c.Dispatch.Backend != DispatchAsynq {
			return fmt.Errorf("APP_MODE=%s requires DISPATCH_BACKEND=asynq", c.Mode)
		}
		if c.Storage.Backend == StoreMemory {
			return fmt.Errorf("APP_MODE=%s cannot share a memory store between processes", c.Mode)
		}
	default:
		return fmt.Errorf("invalid APP_MODE %q", c.Mode)
	}
	if strings.TrimSpace(c.Engine.Command) == "" {
		return fmt.Errorf("ENGINE_COMMAND is required")
	}
	if c.Dispatch.WorkerCount < 0 {
		return fmt.Errorf("WORKER_COUNT must not be negative")
	}
	if c.HTTP.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.Sweep.Enabled() {
		if _, err := cron.ParseStandard(c.Sweep.CronExpr); err != nil {
			return fmt.Errorf("invalid SWEEP_CRON: %w", err)
		}
		if c.Sweep.MaxAge <= 0 {
			return fmt.Errorf("SWEEP_MAX_AGE must be positive")
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStringAllowEmpty distinguishes an explicitly empty variable from an unset one.
func getEnvStringAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}
