package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the alerting service
type Config struct {
	Environment string          `mapstructure:"environment"`
	Debug       bool            `mapstructure:"debug"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Alerting    AlertingConfig  `mapstructure:"alerting"`
	Rules       RulesConfig     `mapstructure:"rules"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort     int           `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains the optional cross-process broadcast relay configuration.
// When disabled the hub fans out to local sessions only.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// KafkaConfig contains Kafka producer configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	AlertCreated   string `mapstructure:"alert_created"`
	AlertUpdated   string `mapstructure:"alert_updated"`
	SweepCompleted string `mapstructure:"sweep_completed"`
}

// AlertingConfig contains alert manager configuration
type AlertingConfig struct {
	DefaultPageLimit int           `mapstructure:"default_page_limit"`
	MaxPageLimit     int           `mapstructure:"max_page_limit"`
	DedupCacheTTL    time.Duration `mapstructure:"dedup_cache_ttl"`
	TrendWindowDays  int           `mapstructure:"trend_window_days"`
}

// RulesConfig contains automated rule engine thresholds
type RulesConfig struct {
	LowStockThreshold   int           `mapstructure:"low_stock_threshold"`
	CriticalDaysOfStock int           `mapstructure:"critical_days_of_stock"`
	StagnantWindow      time.Duration `mapstructure:"stagnant_window"`
	StagnantAlertTTL    time.Duration `mapstructure:"stagnant_alert_ttl"`
	ABCMinTransactions  int           `mapstructure:"abc_min_transactions"`
}

// SchedulerConfig contains periodic task configuration
type SchedulerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	SweepSchedule  string `mapstructure:"sweep_schedule"`
	ExpirySchedule string `mapstructure:"expiry_schedule"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // json, text
	IncludeSource bool   `mapstructure:"include_source"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/imos-alerting")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("IMOS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8085)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "imos_alerting")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis relay
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.channel", "imos:broadcast")

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.alert_created", "alert-created")
	viper.SetDefault("kafka.topics.alert_updated", "alert-updated")
	viper.SetDefault("kafka.topics.sweep_completed", "sweep-completed")

	// Alerting
	viper.SetDefault("alerting.default_page_limit", 20)
	viper.SetDefault("alerting.max_page_limit", 100)
	viper.SetDefault("alerting.dedup_cache_ttl", "5m")
	viper.SetDefault("alerting.trend_window_days", 30)

	// Rules
	viper.SetDefault("rules.low_stock_threshold", 10)
	viper.SetDefault("rules.critical_days_of_stock", 3)
	viper.SetDefault("rules.stagnant_window", "1440h")   // 60 days
	viper.SetDefault("rules.stagnant_alert_ttl", "336h") // 14 days
	viper.SetDefault("rules.abc_min_transactions", 5)

	// Scheduler
	viper.SetDefault("scheduler.enabled", false)
	viper.SetDefault("scheduler.sweep_schedule", "0 0 */6 * * *")
	viper.SetDefault("scheduler.expiry_schedule", "0 30 * * * *")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.include_source", false)
}
