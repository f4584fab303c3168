package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config 应用全部配置
type Config struct {
	AppEnv   string `env:"APP_ENV" env-default:"development"`
	HTTPAddr string `env:"HTTP_ADDR" env-default:":8080"`
	Log      LogConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Text     TextConfig
	Image    ImageConfig
	Storage  StorageConfig
	Dispatch DispatchConfig
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"text"`
	File   string `env:"LOG_FILE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	DSN         string `env:"DATABASE_URL" env-required:"true"`
	AutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE" env-default:"true"`
}

// AuthConfig JWT校验配置
type AuthConfig struct {
	JWTSecret   string   `env:"JWT_SECRET" env-required:"true"`
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
}

// TextConfig 文本模型配置
type TextConfig struct {
	Provider     string `env:"TEXT_PROVIDER" env-default:"gemini"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" env-default:"gemini-1.5-flash"`
	ArkAPIKey    string `env:"ARK_API_KEY"`
	ArkModel     string `env:"ARK_CHAT_MODEL" env-default:"ep-20250220181854-c8s82"`
}

// ImageConfig 图片模型配置
type ImageConfig struct {
	Provider          string        `env:"IMAGE_PROVIDER" env-default:"huggingface"`
	HuggingFaceAPIKey string        `env:"HUGGINGFACE_API_KEY"`
	HuggingFaceURL    string        `env:"HUGGINGFACE_BASE_URL" env-default:"https://api-inference.huggingface.co"`
	PrimaryModel      string        `env:"IMAGE_PRIMARY_MODEL"`
	BackupModel       string        `env:"IMAGE_BACKUP_MODEL"`
	Steps             int           `env:"IMAGE_INFERENCE_STEPS" env-default:"20"`
	GuidanceScale     float64       `env:"IMAGE_GUIDANCE_SCALE" env-default:"7.5"`
	Timeout           time.Duration `env:"IMAGE_TIMEOUT" env-default:"120s"`
	Mock              bool          `env:"IMAGE_MOCK" env-default:"false"`
}

// 未配置模型时按图片服务取默认主备模型
var defaultImageModels = map[string][2]string{
	"huggingface": {"stabilityai/stable-diffusion-xl-base-1.0", "runwayml/stable-diffusion-v1-5"},
	"ark":         {"doubao-seedream-4.0", "doubao-seedream-3-0-t2i-250415"},
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	PublicBaseURL   string `env:"GCS_PUBLIC_BASE_URL"`
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// DispatchConfig 资源生成任务派发配置
type DispatchConfig struct {
	Mode        string `env:"ASSET_DISPATCH" env-default:"local"`
	Workers     int    `env:"ASSET_WORKERS" env-default:"2"`
	QueueSize   int    `env:"ASSET_QUEUE_SIZE" env-default:"64"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	QueueName   string `env:"RABBITMQ_ASSET_QUEUE" env-default:"story_asset_tasks"`
	// 生成中的故事超过该时长未更新时可被重新生成
	Lease time.Duration `env:"GENERATION_LEASE" env-default:"1h"`
}

// Load 从环境变量和.env文件读取配置并校验
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.applyImageDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyImageDefaults() {
	models, ok := defaultImageModels[strings.ToLower(c.Image.Provider)]
	if !ok {
		return
	}
	if c.Image.PrimaryModel == "" {
		c.Image.PrimaryModel = models[0]
	}
	if c.Image.BackupModel == "" {
		c.Image.BackupModel = models[1]
	}
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	switch strings.ToLower(c.Text.Provider) {
	case "gemini":
		if c.Text.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when TEXT_PROVIDER=gemini"))
		}
	case "ark":
		if c.Text.ArkAPIKey == "" {
			errs = append(errs, errors.New("ARK_API_KEY is required when TEXT_PROVIDER=ark"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TEXT_PROVIDER %q", c.Text.Provider))
	}

	switch strings.ToLower(c.Image.Provider) {
	case "huggingface":
		if c.Image.HuggingFaceAPIKey == "" && !c.Image.Mock {
			errs = append(errs, errors.New("HUGGINGFACE_API_KEY is required when IMAGE_PROVIDER=huggingface"))
		}
	case "ark":
		if c.Text.ArkAPIKey == "" && !c.Image.Mock {
			errs = append(errs, errors.New("ARK_API_KEY is required when IMAGE_PROVIDER=ark"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IMAGE_PROVIDER %q", c.Image.Provider))
	}

	switch strings.ToLower(c.Dispatch.Mode) {
	case "inline", "local":
	case "rabbitmq":
		if c.Dispatch.RabbitMQURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required when ASSET_DISPATCH=rabbitmq"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ASSET_DISPATCH %q", c.Dispatch.Mode))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("ASSET_WORKERS must be positive"))
	}

	return errors.Join(errs...)
}
