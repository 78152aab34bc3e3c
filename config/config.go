package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
	appErr    error
)

// AppConfig is the root configuration for the server and the worker.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Queue   QueueConfig   `yaml:"queue"`
	Limits  LimitsConfig  `yaml:"limits"`
	Session SessionConfig `yaml:"session"`
	Render  RenderConfig  `yaml:"render"`
	Handoff HandoffConfig `yaml:"handoff"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     logger.Config `yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// AllowedOrigins lists CORS origins; empty allows every origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type StorageConfig struct {
	// Type is "s3", "minio" or "memory".
	Type      string        `yaml:"type"`
	Retention time.Duration `yaml:"retention"`

	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
}

type QueueConfig struct {
	// Backend is "asynq" or "memory". The memory queue runs tasks in-process.
	Backend     string        `yaml:"backend"`
	Concurrency int           `yaml:"concurrency"`
	MaxRetries  int           `yaml:"maxRetries"`
	Timeout     time.Duration `yaml:"timeout"`
	StatusTTL   time.Duration `yaml:"statusTTL"`
}

type LimitsConfig struct {
	MaxFileSize   int64 `yaml:"maxFileSize"`
	MaxFiles      int   `yaml:"maxFiles"`
	MaxDimension  int   `yaml:"maxDimension"`
	MaxConcurrent int   `yaml:"maxConcurrent"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type RenderConfig struct {
	// Browser is "text" for the built-in renderer or "chromium" for a
	// headless browser. The text renderer is used when chromium fails to start.
	Browser         string        `yaml:"browser"`
	InstallBrowser  bool          `yaml:"installBrowser"`
	HTMLWidth       int           `yaml:"htmlWidth"`
	HTMLSettleDelay time.Duration `yaml:"htmlSettleDelay"`
	PDFPreviewScale float64       `yaml:"pdfPreviewScale"`
}

type HandoffConfig struct {
	// Backend is "redis" or "memory".
	Backend string `yaml:"backend"`
}

type AuthConfig struct {
	// Tokens maps static bearer tokens to user ids for development setups.
	Tokens map[string]string `yaml:"tokens"`
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Storage: StorageConfig{
			Type:      "memory",
			Retention: 24 * time.Hour,
			S3:        GetS3Config(),
			Minio:     GetMinioConfig(),
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Queue: QueueConfig{
			Backend:     "memory",
			Concurrency: 5,
			MaxRetries:  3,
			Timeout:     10 * time.Minute,
			StatusTTL:   24 * time.Hour,
		},
		Limits: LimitsConfig{
			MaxFileSize:   50 * 1024 * 1024,
			MaxFiles:      50,
			MaxDimension:  12000,
			MaxConcurrent: 4,
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Render: RenderConfig{
			Browser:         "text",
			HTMLWidth:       1024,
			HTMLSettleDelay: 500 * time.Millisecond,
			PDFPreviewScale: 2,
		},
		Handoff: HandoffConfig{
			Backend: "memory",
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads a YAML file on top of the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get loads the process-wide configuration once, from TOOLKIT_CONFIG or config.yaml.
func Get() (*AppConfig, error) {
	appOnce.Do(func() {
		loadDotEnv()
		appConfig, appErr = Load(envString("TOOLKIT_CONFIG", "config.yaml"))
	})
	return appConfig, appErr
}

func applyEnv(cfg *AppConfig) {
	cfg.Server.Addr = envString("TOOLKIT_ADDR", cfg.Server.Addr)
	cfg.Storage.Type = envString("TOOLKIT_STORAGE", cfg.Storage.Type)
	cfg.Handoff.Backend = envString("TOOLKIT_HANDOFF", cfg.Handoff.Backend)
	cfg.Queue.Backend = envString("TOOLKIT_QUEUE", cfg.Queue.Backend)
	cfg.Render.Browser = envString("TOOLKIT_HTML_BROWSER", cfg.Render.Browser)
	cfg.Render.InstallBrowser = envBool("TOOLKIT_INSTALL_BROWSER", cfg.Render.InstallBrowser)
	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Limits.MaxConcurrent = envInt("TOOLKIT_MAX_CONCURRENT", cfg.Limits.MaxConcurrent)
	cfg.Session.TTL = envDuration("TOOLKIT_SESSION_TTL", cfg.Session.TTL)
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
}

// Validate rejects configurations the services cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Type {
	case "s3", "minio", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.Handoff.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported handoff backend: %s", c.Handoff.Backend)
	}
	switch c.Queue.Backend {
	case "asynq", "memory":
	default:
		return fmt.Errorf("unsupported queue backend: %s", c.Queue.Backend)
	}
	switch c.Render.Browser {
	case "text", "chromium":
	default:
		return fmt.Errorf("unsupported html browser: %s", c.Render.Browser)
	}
	switch {
	case c.Storage.Type == "s3" && c.Storage.S3.Bucket == "":
		return errors.New("storage.s3.bucket is required")
	case c.Storage.Type == "minio" && c.Storage.Minio.Bucket == "":
		return errors.New("storage.minio.bucket is required")
	}
	if c.Limits.MaxConcurrent < 1 {
		return fmt.Errorf("limits.maxConcurrent must be positive, got %d", c.Limits.MaxConcurrent)
	}
	if c.Render.PDFPreviewScale <= 0 {
		return fmt.Errorf("render.pdfPreviewScale must be positive, got %v", c.Render.PDFPreviewScale)
	}
	return nil
}
