package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL     string             `mapstructure:"url"`
		Inbound ConsumerNatsConfig `mapstructure:"inbound"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Bot struct {
		CSNumber             string        `mapstructure:"csNumber"`             // Human operator identity (digits only after normalization)
		AutoTimeout          time.Duration `mapstructure:"autoTimeout"`          // Idle duration before HUMAN reverts to BOT
		RateLimitMinInterval time.Duration `mapstructure:"rateLimitMinInterval"` // Per-identity spacing, zero disables
		SweepInterval        time.Duration `mapstructure:"sweepInterval"`        // Timeout sweeper tick
	} `mapstructure:"bot"`
	Gateway struct {
		BaseURL        string        `mapstructure:"baseURL"`
		APIKey         string        `mapstructure:"apiKey"`
		Stub           bool          `mapstructure:"stub"` // Log sends instead of calling the WA gateway
		RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	} `mapstructure:"gateway"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Inbound InboundWorkerPoolConfig `mapstructure:"inbound"`
	} `mapstructure:"workerPools"`
}

// InboundWorkerPoolConfig holds configuration for the inbound event worker pool
type InboundWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	Subject      string        `mapstructure:"subject"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before the message is terminated
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.inbound.stream", "cs_bot_events")
	v.SetDefault("nats.inbound.consumer", "cs_bot_inbound")
	v.SetDefault("nats.inbound.group", "cs_bot_inbound_group")
	v.SetDefault("nats.inbound.subject", "v1.cs.inbound")
	v.SetDefault("nats.inbound.maxAge", 7)
	v.SetDefault("nats.inbound.maxDeliver", 5)
	v.SetDefault("nats.inbound.nakBaseDelay", time.Second)
	v.SetDefault("nats.inbound.nakMaxDelay", 30*time.Second)

	v.SetDefault("database.postgresAutoMigrate", true)

	v.SetDefault("bot.autoTimeout", 24*time.Hour)
	v.SetDefault("bot.rateLimitMinInterval", time.Duration(0))
	v.SetDefault("bot.sweepInterval", 15*time.Minute)

	v.SetDefault("gateway.requestTimeout", 15*time.Second)
	v.SetDefault("gateway.stub", false)

	v.SetDefault("workerPools.inbound.poolSize", 10)
	v.SetDefault("workerPools.inbound.queueSize", 10000)
	v.SetDefault("workerPools.inbound.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-cs-bot-engine")
	v.AddConfigPath("/etc/daisi-cs-bot-engine")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if cs := os.Getenv("CS_NUMBER"); cs != "" {
		v.Set("bot.csNumber", cs)
	}
	if base := os.Getenv("GATEWAY_BASE_URL"); base != "" {
		v.Set("gateway.baseURL", base)
	}
	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		v.Set("gateway.apiKey", key)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		// Get the field tag value (mapstructure)
		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		// Build the env var path
		path := append(parts, tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		// Bind the env var
		_ = v.BindEnv(key)
	}
}
