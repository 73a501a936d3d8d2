package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ApiEnv          string `mapstructure:"API_ENV"`
	AppPort         string `mapstructure:"APP_PORT"`
	AppHost         string `mapstructure:"APP_HOST"`
	MaintenanceMode bool   `mapstructure:"MAINTENANCE_MODE"`
	LogFile         string `mapstructure:"LOG_FILE"`

	DatabaseHost     string `mapstructure:"DATABASE_HOST"`
	DatabasePort     string `mapstructure:"DATABASE_PORT"`
	DatabaseSSLMode  string `mapstructure:"DATABASE_SSLMODE"`
	DatabaseTimezone string `mapstructure:"DATABASE_TIMEZONE"`
	DatabaseUser     string `mapstructure:"DATABASE_USER"`
	DatabasePassword string `mapstructure:"DATABASE_PASSWORD"`
	DatabaseName     string `mapstructure:"DATABASE_NAME"`

	RedisHost         string        `mapstructure:"REDIS_HOST"`
	IdempotencyWindow time.Duration `mapstructure:"IDEMPOTENCY_WINDOW"`

	StripeSecretKey string `mapstructure:"STRIPE_SECRET_KEY"`

	KafkaBroker             string `mapstructure:"KAFKA_BROKER"`
	KafkaClientID           string `mapstructure:"KAFKA_CLIENT_ID"`
	MonitorAssignmentsTopic string `mapstructure:"MONITOR_ASSIGNMENTS_TOPIC"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	MailFrom     string `mapstructure:"MAIL_FROM"`

	DriftScanInterval   time.Duration `mapstructure:"DRIFT_SCAN_INTERVAL"`
	HoldReleaseInterval time.Duration `mapstructure:"HOLD_RELEASE_INTERVAL"`
}

var AppConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_ENV", "local")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_HOST", "")
	v.SetDefault("MAINTENANCE_MODE", false)
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_TIMEZONE", "UTC")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_NAME", "boukii")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("KAFKA_BROKER", "")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "no-reply@boukii.local")
	v.SetDefault("IDEMPOTENCY_WINDOW", "10m")
	v.SetDefault("KAFKA_CLIENT_ID", "booking-core")
	v.SetDefault("MONITOR_ASSIGNMENTS_TOPIC", "monitor-assignments")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("DRIFT_SCAN_INTERVAL", "1h")
	v.SetDefault("HOLD_RELEASE_INTERVAL", "5m")
}

// Load reads config.yaml (optional) and the environment. Environment wins.
// Every key needs a default so AutomaticEnv picks it up during Unmarshal.
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	AppConfig = &cfg
	return &cfg
}

func Get() *Config {
	if AppConfig == nil {
		return Load()
	}
	return AppConfig
}

func (c *Config) IsProd() bool {
	return c.ApiEnv == "production"
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.DatabaseHost, c.DatabaseUser, c.DatabasePassword, c.DatabaseName, c.DatabasePort, c.DatabaseSSLMode, c.DatabaseTimezone)
}

func GetDSN() string {
	return Get().DSN()
}

const DATE_FORMAT = "2006-01-02"
const CLOCK_FORMAT = "15:04"
