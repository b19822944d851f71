package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Redis       RedisConfig      `json:"redis"`
	FileStore   FileStoreConfig  `json:"file_store"`
	AI          AIConfig         `json:"ai"`
	Chunking    ChunkingConfig   `json:"chunking"`
	Embedding   EmbeddingConfig  `json:"embedding"`
	Queue       QueueConfig      `json:"queue"`
	QueryCache  QueryCacheConfig `json:"query_cache"`
	Reconcile   ReconcileConfig  `json:"reconcile"`
	Upload      UploadConfig     `json:"upload"`
	CORSOrigins []string         `json:"cors_origins"`
}

type DatabaseConfig struct {
	// DSN wins over the discrete fields when set.
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type EmbedderConfig struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Model string      `json:"model"`
	Data  interface{} `json:"data"`
}

// AIConfig lists embedding backends in fallback order; the first entry is
// primary and the rest take over when it fails.
type AIConfig struct {
	Embedders []EmbedderConfig `json:"embedders"`
}

// ChunkingConfig drives the splitter. Separator is a pointer so an
// explicit "" (treat the whole text as one segment) is distinguishable
// from an absent field, which defaults to paragraph breaks.
type ChunkingConfig struct {
	ChunkSize int     `json:"chunk_size"`
	Overlap   int     `json:"overlap"`
	Separator *string `json:"separator"`
}

type EmbeddingConfig struct {
	Dimension    int `json:"dimension"`
	BatchSize    int `json:"batch_size"`
	BatchDelayMS int `json:"batch_delay_ms"`
}

type QueueConfig struct {
	Mode                string `json:"mode"`
	Prefix              string `json:"prefix"`
	Concurrency         int    `json:"concurrency"`
	MaxAttempts         int    `json:"max_attempts"`
	RetryDelaySeconds   int    `json:"retry_delay_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

type QueryCacheConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
}

type ReconcileConfig struct {
	CronSpec      string `json:"cron_spec"`
	MaxAgeMinutes int    `json:"max_age_minutes"`
}

type UploadConfig struct {
	MaxUploadMB       int64 `json:"max_upload_mb"`
	RateWindowSeconds int   `json:"rate_window_seconds"`
}

const (
	QueueModeAsync  = "async"
	QueueModeInline = "inline"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references from the environment so secrets
// like api keys and passwords can stay out of the config file. Unset
// variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envRef.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Database.DSN == "" {
		if cfg.Database.Host == "" || cfg.Database.User == "" || cfg.Database.DBName == "" {
			return nil, fmt.Errorf("database.dsn or database.host/user/db_name is required")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if len(cfg.AI.Embedders) == 0 {
		return nil, fmt.Errorf("ai.embedders requires at least one entry")
	}
	for i, e := range cfg.AI.Embedders {
		if e.Type == "" || e.Model == "" {
			return nil, fmt.Errorf("ai.embedders[%d] requires type and model", i)
		}
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
		if cfg.Chunking.Overlap == 0 {
			cfg.Chunking.Overlap = 200
		}
	}
	if cfg.Chunking.Separator == nil {
		sep := "\n\n"
		cfg.Chunking.Separator = &sep
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.ChunkSize {
		return nil, fmt.Errorf("chunking.overlap must be smaller than chunking.chunk_size")
	}
	switch cfg.Queue.Mode {
	case "":
		cfg.Queue.Mode = QueueModeInline
	case QueueModeAsync:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis.addr is required for queue.mode async")
		}
	case QueueModeInline:
	default:
		return nil, fmt.Errorf("queue.mode must be async or inline")
	}
	if cfg.Reconcile.CronSpec == "" {
		cfg.Reconcile.CronSpec = "*/5 * * * *"
	}
	if cfg.Reconcile.MaxAgeMinutes == 0 {
		cfg.Reconcile.MaxAgeMinutes = 30
	}
	if cfg.Upload.MaxUploadMB == 0 {
		cfg.Upload.MaxUploadMB = 32
	}
	return &cfg, nil
}
