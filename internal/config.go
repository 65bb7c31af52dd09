package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Moyasar       MoyasarConfig       `mapstructure:"moyasar"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// MoyasarConfig holds everything the gateway client needs. Credentials are
// injected here at construction; nothing reads the environment at call time.
type MoyasarConfig struct {
	SecretKey           string        `mapstructure:"secret_key" validate:"required"`
	BaseURL             string        `mapstructure:"base_url" validate:"required,url"`
	DefaultCallbackURL  string        `mapstructure:"default_callback_url" validate:"required,url"`
	CallbackTokenSecret string        `mapstructure:"callback_token_secret"`
	WebhookSecret       string        `mapstructure:"webhook_secret"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
}

// ReconcilerConfig drives the background job that settles payments stuck in
// pending, usually after a gateway timeout or an abandoned 3-D-Secure flow.
type ReconcilerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	PendingAge time.Duration `mapstructure:"pending_age"`
	BatchSize  int           `mapstructure:"batch_size"`
}

func (c *ReconcilerConfig) IntervalOrDefault() time.Duration {
	if c.Interval <= 0 {
		return 5 * time.Minute
	}
	return c.Interval
}

func (c *ReconcilerConfig) PendingAgeOrDefault() time.Duration {
	if c.PendingAge <= 0 {
		return 15 * time.Minute
	}
	return c.PendingAge
}

func (c *ReconcilerConfig) BatchSizeOrDefault() int {
	if c.BatchSize <= 0 {
		return 50
	}
	return c.BatchSize
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from environment variables for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Moyasar: MoyasarConfig{
			SecretKey:           getEnv("MOYASAR_SECRET_KEY", ""),
			BaseURL:             getEnv("MOYASAR_BASE_URL", "https://api.moyasar.com/v1"),
			DefaultCallbackURL:  getEnv("MOYASAR_DEFAULT_CALLBACK_URL", ""),
			CallbackTokenSecret: getEnv("MOYASAR_CALLBACK_TOKEN_SECRET", ""),
			WebhookSecret:       getEnv("MOYASAR_WEBHOOK_SECRET", ""),
			ReadTimeout:         getEnvAsDuration("MOYASAR_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:        getEnvAsDuration("MOYASAR_WRITE_TIMEOUT", 30*time.Second),
		},
		Reconciler: ReconcilerConfig{
			Interval:   getEnvAsDuration("RECONCILER_INTERVAL", 5*time.Minute),
			PendingAge: getEnvAsDuration("RECONCILER_PENDING_AGE", 15*time.Minute),
			BatchSize:  getEnvAsInt("RECONCILER_BATCH_SIZE", 50),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Moyasar.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("moyasar config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *MoyasarConfig) Validate() error {
	if c.SecretKey == "" {
		return errors.New("secret_key is required")
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.DefaultCallbackURL == "" {
		return errors.New("default_callback_url is required")
	}
	return nil
}

// ReadTimeoutOrDefault bounds fetch/verify calls; charge and refund calls use
// WriteTimeoutOrDefault since money may move on those paths.
func (c *MoyasarConfig) ReadTimeoutOrDefault() time.Duration {
	if c.ReadTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ReadTimeout
}

func (c *MoyasarConfig) WriteTimeoutOrDefault() time.Duration {
	if c.WriteTimeout <= 0 {
		return 30 * time.Second
	}
	return c.WriteTimeout
}
