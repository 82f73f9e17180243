// Package config loads service configuration from an optional YAML file,
// a .env file and environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	QueueMemory = "memory"
	QueueRedis  = "redis"

	ClientMock = "mock"
	ClientHTTP = "http"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	BasePath        string        `yaml:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory|postgres|sqlite
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type QueueConfig struct {
	Driver        string        `yaml:"driver"` // memory|redis
	Size          int           `yaml:"size"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Key           string        `yaml:"key"`
	ProcessingKey string        `yaml:"processing_key"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"` // claimed but unacked longer than this => requeue
}

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
	MaxActive    int           `yaml:"max_active"`
}

type MockClientConfig struct {
	Latency   time.Duration `yaml:"latency"`
	Seed      uint64        `yaml:"seed"`
	RateLimit int           `yaml:"rate_limit"`
}

type ExtractionConfig struct {
	Client          string           `yaml:"client"` // mock|http
	BaseURL         string           `yaml:"base_url"`
	Timeout         time.Duration    `yaml:"timeout"`
	PageSize        int              `yaml:"page_size"`
	MaxPages        int              `yaml:"max_pages"`
	PageDelay       time.Duration    `yaml:"page_delay"` // pause between pages
	SkipAuthOnStart bool             `yaml:"skip_auth_on_start"`
	Mock            MockClientConfig `yaml:"mock"`
}

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Extraction ExtractionConfig `yaml:"extraction"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load builds a Config. An empty path skips the YAML file.
func Load(path string, dev bool) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("HTTP_ADDR", &c.HTTP.Addr)
	setStr("HTTP_BASE_PATH", &c.HTTP.BasePath)
	setStr("LOG_LEVEL", &c.Log.Level)
	setStr("LOG_FORMAT", &c.Log.Format)
	setStr("STORE_DRIVER", &c.Store.Driver)
	setStr("DATABASE_URL", &c.Store.DSN)
	setStr("QUEUE_DRIVER", &c.Queue.Driver)
	setStr("REDIS_ADDR", &c.Queue.RedisAddr)
	setStr("REDIS_PASSWORD", &c.Queue.RedisPassword)
	setStr("REDIS_QUEUE_KEY", &c.Queue.Key)
	setStr("REDIS_PROCESSING_KEY", &c.Queue.ProcessingKey)
	setStr("EXTRACTION_CLIENT", &c.Extraction.Client)
	setStr("EXTRACTION_BASE_URL", &c.Extraction.BaseURL)

	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("WORKERS must be a positive integer, got %q", v)
		}
		c.Worker.Count = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.BasePath == "" {
		c.HTTP.BasePath = "/api/v1"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Store.MaxConns <= 0 {
		c.Store.MaxConns = 10
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueMemory
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 1024
	}
	if c.Queue.Key == "" {
		c.Queue.Key = "extraction:queue"
	}
	if c.Queue.ProcessingKey == "" {
		c.Queue.ProcessingKey = c.Queue.Key + ":processing"
	}
	if c.Queue.ReapInterval <= 0 {
		c.Queue.ReapInterval = 30 * time.Second
	}
	if c.Queue.StaleAfter <= 0 {
		c.Queue.StaleAfter = 5 * time.Minute
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 4
	}
	if c.Worker.ClaimTimeout <= 0 {
		c.Worker.ClaimTimeout = 5 * time.Second
	}
	if c.Worker.MaxActive <= 0 {
		c.Worker.MaxActive = 1000
	}
	if c.Extraction.Client == "" {
		c.Extraction.Client = ClientMock
	}
	if c.Extraction.Timeout <= 0 {
		c.Extraction.Timeout = 30 * time.Second
	}
	if c.Extraction.PageSize <= 0 {
		c.Extraction.PageSize = 100
	}
	if c.Extraction.MaxPages <= 0 {
		c.Extraction.MaxPages = 10
	}
	if c.Extraction.PageDelay <= 0 {
		c.Extraction.PageDelay = 100 * time.Millisecond
	}
	if c.Extraction.Mock.RateLimit <= 0 {
		c.Extraction.Mock.RateLimit = 100
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres, StoreSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.RedisAddr == "" {
			return errors.New("queue.redis_addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("unknown queue.driver %q", c.Queue.Driver)
	}

	switch c.Extraction.Client {
	case ClientMock:
	case ClientHTTP:
		if c.Extraction.BaseURL == "" {
			return errors.New("extraction.base_url is required for the http client")
		}
	default:
		return fmt.Errorf("unknown extraction.client %q", c.Extraction.Client)
	}

	if c.Worker.Count > c.Worker.MaxActive {
		return fmt.Errorf("worker.count (%d) exceeds worker.max_active (%d)", c.Worker.Count, c.Worker.MaxActive)
	}
	return nil
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password part of a connection string: user:pass@ -> user:****@
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
