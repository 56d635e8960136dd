package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	// Support engine tuning.
	MessagePageSize int           `mapstructure:"MESSAGE_PAGE_SIZE"`
	TypingTimeout   time.Duration `mapstructure:"TYPING_TIMEOUT"`
	HeartbeatEvery  time.Duration `mapstructure:"HEARTBEAT_EVERY"`

	// Attachment storage. When S3Bucket is empty uploads go to UploadDir.
	S3Bucket  string `mapstructure:"S3_BUCKET"`
	S3Region  string `mapstructure:"S3_REGION"`
	UploadDir string `mapstructure:"UPLOAD_DIR"`

	// Upstream fulfillment. An empty ProviderURL selects the mock.
	ProviderURL       string        `mapstructure:"PROVIDER_URL"`
	ProviderAPIKey    string        `mapstructure:"PROVIDER_API_KEY"`
	ProviderPollEvery time.Duration `mapstructure:"PROVIDER_POLL_EVERY"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("MESSAGE_PAGE_SIZE", 50)
	v.SetDefault("TYPING_TIMEOUT", "3s")
	v.SetDefault("HEARTBEAT_EVERY", "20s")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("PROVIDER_POLL_EVERY", "30s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
