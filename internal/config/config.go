package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Storage     StorageConfig             `json:"storage"`
	Index       IndexConfig               `json:"index"`
	Ingest      IngestConfig              `json:"ingest"`
	Auth        AuthConfig                `json:"auth"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"`   // minutes
	OrphanSweep       int    `json:"orphan_sweep_interval"` // minutes, 0 disables
	OrphanGrace       int    `json:"orphan_grace_period"`   // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// RedisConfig is optional; an empty host disables redis-backed locking and caching.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type StorageConfig struct {
	BaseDir       string `json:"base_dir"`
	Bucket        string `json:"bucket"`
	SigningKey    string `json:"signing_key"`
	PublicBaseURL string `json:"public_base_url"`
	SignedURLTTL  int    `json:"signed_url_ttl"` // seconds
}

type IndexConfig struct {
	Backend         string  `json:"backend"` // filesearch | files | memory
	APIKey          string  `json:"api_key"`
	Model           string  `json:"model"`
	PollInterval    int     `json:"poll_interval_ms"`
	MaxPollInterval int     `json:"max_poll_interval_ms"`
	PollBackoff     float64 `json:"poll_backoff"`
	MaxWait         int     `json:"max_wait_seconds"`
	StoreCacheTTL   int     `json:"store_cache_ttl"` // seconds
}

type IngestConfig struct {
	MaxUploadBytes int64 `json:"max_upload_bytes"`
}

// AuthConfig maps bearer tokens to user ids.
type AuthConfig struct {
	Tokens map[string]string `json:"tokens"`
}

const (
	DefaultBackend        = "filesearch"
	DefaultModel          = "gemini-2.5-flash"
	DefaultMaxUploadBytes = 200 << 20
	DefaultBucket         = "matter-files"
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("databases must be configured")
	}
	baseDir := filepath.Dir(absPath)
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && !strings.HasPrefix(sqliteCfg.DSN, ":memory:") && !strings.HasPrefix(sqliteCfg.DSN, "file:") {
		if !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(baseDir, sqliteCfg.DSN)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}
	if cfg.Storage.BaseDir != "" && !filepath.IsAbs(cfg.Storage.BaseDir) {
		cfg.Storage.BaseDir = filepath.Join(baseDir, cfg.Storage.BaseDir)
	}
	if cfg.Index.APIKey == "" {
		cfg.Index.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = "./data/blobs"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = DefaultBucket
	}
	if c.Index.Backend == "" {
		c.Index.Backend = DefaultBackend
	}
	if c.Index.Model == "" {
		c.Index.Model = DefaultModel
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		c.Ingest.MaxUploadBytes = DefaultMaxUploadBytes
	}
}

// PollEvery returns the indexing poll interval, 2s when unset.
func (c IndexConfig) PollEvery() time.Duration {
	if c.PollInterval <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.PollInterval) * time.Millisecond
}

// PollCap returns the upper bound for backed-off poll intervals.
func (c IndexConfig) PollCap() time.Duration {
	if c.MaxPollInterval <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.MaxPollInterval) * time.Millisecond
}

// WaitBudget returns the indexing wall-clock budget, 60s when unset.
func (c IndexConfig) WaitBudget() time.Duration {
	if c.MaxWait <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.MaxWait) * time.Second
}

func (c IndexConfig) StoreCacheDuration() time.Duration {
	if c.StoreCacheTTL <= 0 {
		return time.Hour
	}
	return time.Duration(c.StoreCacheTTL) * time.Second
}

func (c StorageConfig) URLTTL() time.Duration {
	if c.SignedURLTTL <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.SignedURLTTL) * time.Second
}
