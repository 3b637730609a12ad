package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the keyword/value connection string for GORM.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the postgres:// URL used by the migration runner.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// KafkaConfig holds event bus settings.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// SmartShellConfig holds the billing API credentials and endpoint.
type SmartShellConfig struct {
	Endpoint    string
	AuthMode    string // "credentials" or "bearer"
	Login       string
	Password    string
	BearerToken string
	CompanyID   int
	UseMock     bool
}

// SchedulerConfig holds discount scheduler settings.
type SchedulerConfig struct {
	TickInterval time.Duration
}

// ServiceConfig holds all configuration for the discount service.
type ServiceConfig struct {
	Port       string
	AppEnv     string
	DB         DatabaseConfig
	Kafka      KafkaConfig
	SmartShell SmartShellConfig
	Scheduler  SchedulerConfig
}

// Load reads configuration from the environment (plus a local .env file if
// present) and validates it. Validation happens here, once, at the boundary.
func Load() (*ServiceConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVICE_PORT", "8084")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "rightside.")
	v.SetDefault("SMARTSHELL_ENDPOINT", "https://billing.smartshell.gg/api/graphql")
	v.SetDefault("SMARTSHELL_AUTH_MODE", "credentials")
	v.SetDefault("SMARTSHELL_COMPANY_ID", 2128)
	v.SetDefault("SCHEDULER_TICK_INTERVAL", "60s")

	tick, err := time.ParseDuration(v.GetString("SCHEDULER_TICK_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TICK_INTERVAL: %w", err)
	}

	cfg := &ServiceConfig{
		Port:   ":" + strings.TrimPrefix(v.GetString("SERVICE_PORT"), ":"),
		AppEnv: v.GetString("APP_ENV"),
		DB: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(v.GetString("KAFKA_BROKERS"), ","),
			GroupPrefix: v.GetString("KAFKA_GROUP_PREFIX"),
		},
		SmartShell: SmartShellConfig{
			Endpoint:    v.GetString("SMARTSHELL_ENDPOINT"),
			AuthMode:    strings.ToLower(v.GetString("SMARTSHELL_AUTH_MODE")),
			Login:       strings.TrimSpace(v.GetString("SMARTSHELL_LOGIN")),
			Password:    v.GetString("SMARTSHELL_PASSWORD"),
			BearerToken: strings.TrimSpace(v.GetString("SMARTSHELL_BEARER_TOKEN")),
			CompanyID:   v.GetInt("SMARTSHELL_COMPANY_ID"),
			UseMock:     v.GetBool("SMARTSHELL_USE_MOCK"),
		},
		Scheduler: SchedulerConfig{
			TickInterval: tick,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServiceConfig) validate() error {
	if c.DB.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be at least 1s")
	}
	if c.SmartShell.UseMock {
		return nil
	}
	switch c.SmartShell.AuthMode {
	case "credentials":
		if c.SmartShell.Login == "" || c.SmartShell.Password == "" {
			return fmt.Errorf("SMARTSHELL_LOGIN and SMARTSHELL_PASSWORD are required in credentials mode")
		}
	case "bearer":
		if c.SmartShell.BearerToken == "" {
			return fmt.Errorf("SMARTSHELL_BEARER_TOKEN is required in bearer mode")
		}
	default:
		return fmt.Errorf("unknown SMARTSHELL_AUTH_MODE %q", c.SmartShell.AuthMode)
	}
	return nil
}
