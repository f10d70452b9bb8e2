package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Auth       AuthConfig
	Storage    StorageConfig
	Tracing    TracingConfig `mapstructure:"tracing"`
	Redis      RedisConfig
	Queue      QueueConfig
	AI         AIConfig
	OCR        OCRConfig
	Rasterizer RasterizerConfig
	Pipeline   PipelineConfig
	CORS       CORSConfig      `mapstructure:"cors"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	MigrateOnly bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AIConfig 评分/提取模型配置，APIKey 为空表示未配置模型
type AIConfig struct {
	Provider       string  `mapstructure:"provider"` // gemini | openai
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float32 `mapstructure:"temperature"`
}

func (c AIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type OCRConfig struct {
	Provider              string `mapstructure:"provider"` // tesseract | vision | none
	TesseractCmd          string `mapstructure:"tesseract_cmd"`
	Language              string `mapstructure:"language"`
	VisionCredentialsFile string `mapstructure:"vision_credentials_file"`
}

type RasterizerConfig struct {
	PdftoppmPath  string `mapstructure:"pdftoppm_path"`
	PdftotextPath string `mapstructure:"pdftotext_path"`
	DPI           int    `mapstructure:"dpi"`
}

type PipelineConfig struct {
	GradingConcurrency int    `mapstructure:"grading_concurrency"`
	WorkDir            string `mapstructure:"work_dir"`
}

type QueueConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Workers  int    `mapstructure:"workers"`
	Buffer   int    `mapstructure:"buffer"`
	RedisKey string `mapstructure:"redis_key"`
}

type ServerConfig struct {
	Port        string
	Mode        string
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Driver    string // mysql | postgres | sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"sslmode"`
	Path      string // sqlite 文件路径
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type StorageConfig struct {
	Type               string `mapstructure:"type"`
	LocalPath          string `mapstructure:"local_path"`
	MinioEndpoint      string `mapstructure:"minio_endpoint"`
	MinioAccessID      string `mapstructure:"minio_access_key"`
	MinioSecret        string `mapstructure:"minio_secret_key"`
	MinioBucket        string `mapstructure:"minio_bucket"`
	MinioUseSSL        bool   `mapstructure:"minio_use_ssl"`
	OSSEndpoint        string `mapstructure:"oss_endpoint"`
	OSSAccessKey       string `mapstructure:"oss_access_key"`
	OSSSecretKey       string `mapstructure:"oss_secret_key"`
	OSSBucket          string `mapstructure:"oss_bucket"`
	GCSBucket          string `mapstructure:"gcs_bucket"`
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.max_upload_mb", 25)

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "gradeglide.db")
	viper.SetDefault("database.charset", "utf8mb4")
	viper.SetDefault("database.parsetime", true)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("jwt.expire_hours", 72)

	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "uploads")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)

	viper.SetDefault("queue.type", "memory")
	viper.SetDefault("queue.workers", 2)
	viper.SetDefault("queue.buffer", 64)
	viper.SetDefault("queue.redis_key", "gradeglide:pipeline:jobs")

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.model", "gemini-1.5-flash")
	viper.SetDefault("ai.timeout_seconds", 60)

	viper.SetDefault("ocr.provider", "tesseract")
	viper.SetDefault("ocr.tesseract_cmd", "tesseract")
	viper.SetDefault("ocr.language", "eng")

	viper.SetDefault("rasterizer.pdftoppm_path", "pdftoppm")
	viper.SetDefault("rasterizer.pdftotext_path", "pdftotext")
	viper.SetDefault("rasterizer.dpi", 200)

	viper.SetDefault("pipeline.grading_concurrency", 1)

	viper.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	viper.SetDefault("rate_limit.max_requests", 600)
	viper.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("GRADEGLIDE")
	viper.AutomaticEnv()

	setDefaults()

	// Database
	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")
	viper.BindEnv("database.path", "DATABASE_PATH")

	// JWT / Auth
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("auth.enabled", "AUTH_ENABLED")

	// Redis / Queue
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("queue.type", "QUEUE_TYPE")

	// Server
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.mode", "SERVER_MODE")

	// AI
	viper.BindEnv("ai.provider", "AI_PROVIDER")
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.api_key", "GEMINI_API_KEY", "AI_API_KEY")
	viper.BindEnv("ai.model", "AI_MODEL")

	// OCR / 栅格化
	viper.BindEnv("ocr.provider", "OCR_PROVIDER")
	viper.BindEnv("ocr.tesseract_cmd", "TESSERACT_CMD")
	viper.BindEnv("ocr.vision_credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	viper.BindEnv("rasterizer.pdftoppm_path", "PDFTOPPM_PATH")
	viper.BindEnv("rasterizer.pdftotext_path", "PDFTOTEXT_PATH")

	// Storage
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.local_path", "UPLOAD_DIR")
	viper.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	viper.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	viper.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	viper.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")
	viper.BindEnv("storage.gcs_bucket", "GCS_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// 配置文件可选，仅用环境变量也能启动
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// Validate 校验配置组合是否合法
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unsupported server mode %q", c.Server.Mode)
	}

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Queue.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported queue type %q", c.Queue.Type)
	}

	switch c.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported ai provider %q", c.AI.Provider)
	}

	return nil
}
