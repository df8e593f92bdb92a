package internal

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Prediction    PredictionConfig    `mapstructure:"prediction"`
	AI            AIConfig            `mapstructure:"ai"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
	ValidateRequests  bool          `mapstructure:"validate_requests"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// RedisConfig is optional; an empty Addr disables the notification ledger.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	NotificationTTL time.Duration `mapstructure:"notification_ttl"`
}

// SecurityConfig holds the RSA key pair used for admin tokens. Both keys are
// base64 encoded PEM blocks. Leaving them empty disables the admin routes.
type SecurityConfig struct {
	JWTPrivateKey      string        `mapstructure:"jwt_private_key"`
	JWTPublicKey       string        `mapstructure:"jwt_public_key"`
	AdminTokenDuration time.Duration `mapstructure:"admin_token_duration"`
	TokenIssuer        string        `mapstructure:"token_issuer"`
}

type PaymentConfig struct {
	APIURL              string        `mapstructure:"api_url"`
	AccessToken         string        `mapstructure:"access_token"`
	PublicKey           string        `mapstructure:"public_key"`
	NotificationURL     string        `mapstructure:"notification_url"`
	BackURL             string        `mapstructure:"back_url"`
	Currency            string        `mapstructure:"currency"`
	StatementDescriptor string        `mapstructure:"statement_descriptor"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	AsyncWebhooks       bool          `mapstructure:"async_webhooks"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	JobQueueSize        int           `mapstructure:"job_queue_size"`
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
}

type PredictionConfig struct {
	BaseAmount          string        `mapstructure:"base_amount"`
	DiscountRate        string        `mapstructure:"discount_rate"`
	ValidityWindow      time.Duration `mapstructure:"validity_window"`
	ConfirmMaxAttempts  int           `mapstructure:"confirm_max_attempts"`
	PollGatewayOnStatus bool          `mapstructure:"poll_gateway_on_status"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

type AIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration for container deployments where
// no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 45*time.Second),
			OpenAPIPath:       getEnv("HTTP_OPENAPI_PATH", "./api/openapi.yml"),
			ValidateRequests:  getEnvAsBool("HTTP_VALIDATE_REQUESTS", false),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", ""),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			NotificationTTL: getEnvAsDuration("REDIS_NOTIFICATION_TTL", 48*time.Hour),
		},
		Security: SecurityConfig{
			JWTPrivateKey:      getEnv("JWT_PRIVATE_KEY", ""),
			JWTPublicKey:       getEnv("JWT_PUBLIC_KEY", ""),
			AdminTokenDuration: getEnvAsDuration("ADMIN_TOKEN_DURATION", time.Hour),
			TokenIssuer:        getEnv("TOKEN_ISSUER", "thematic-predictions"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Payment: PaymentConfig{
			APIURL:              getEnv("PAYMENT_API_URL", "https://api.mercadopago.com"),
			AccessToken:         getEnv("PAYMENT_ACCESS_TOKEN", ""),
			PublicKey:           getEnv("PAYMENT_PUBLIC_KEY", ""),
			NotificationURL:     getEnv("PAYMENT_NOTIFICATION_URL", ""),
			BackURL:             getEnv("PAYMENT_BACK_URL", ""),
			Currency:            getEnv("PAYMENT_CURRENCY", "BRL"),
			StatementDescriptor: getEnv("PAYMENT_STATEMENT_DESCRIPTOR", "Logical Astrology"),
			RequestTimeout:      getEnvAsDuration("PAYMENT_REQUEST_TIMEOUT", 30*time.Second),
			AsyncWebhooks:       getEnvAsBool("PAYMENT_ASYNC_WEBHOOKS", false),
			MaxWorkers:          getEnvAsInt("PAYMENT_MAX_WORKERS", 4),
			JobQueueSize:        getEnvAsInt("PAYMENT_JOB_QUEUE_SIZE", 100),
			WorkerPoolSize:      getEnvAsInt("PAYMENT_WORKER_POOL_SIZE", 0),
		},
		Prediction: PredictionConfig{
			BaseAmount:          getEnv("PREDICTION_BASE_AMOUNT", "5.90"),
			DiscountRate:        getEnv("PREDICTION_DISCOUNT_RATE", "0.30"),
			ValidityWindow:      getEnvAsDuration("PREDICTION_VALIDITY_WINDOW", 1440*time.Minute),
			ConfirmMaxAttempts:  getEnvAsInt("PREDICTION_CONFIRM_MAX_ATTEMPTS", 3),
			PollGatewayOnStatus: getEnvAsBool("PREDICTION_POLL_GATEWAY_ON_STATUS", false),
			SweepInterval:       getEnvAsDuration("PREDICTION_SWEEP_INTERVAL", 0),
		},
		AI: AIConfig{
			Enabled:     getEnvAsBool("AI_ENABLED", false),
			Endpoint:    getEnv("AI_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			APIKey:      getEnv("AI_API_KEY", ""),
			Model:       getEnv("AI_MODEL", "gpt-3.5-turbo"),
			Temperature: getEnvAsFloat("AI_TEMPERATURE", 0.3),
			Timeout:     getEnvAsDuration("AI_TIMEOUT", 30*time.Second),
		},
	}
	return cfg
}

// ApplyDefaults fills zero values left by a partial config file.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.OpenAPIPath == "" {
		c.Server.OpenAPIPath = "./api/openapi.yml"
	}
	if c.Redis.NotificationTTL <= 0 {
		c.Redis.NotificationTTL = 48 * time.Hour
	}
	if c.Security.AdminTokenDuration <= 0 {
		c.Security.AdminTokenDuration = time.Hour
	}
	if c.Security.TokenIssuer == "" {
		c.Security.TokenIssuer = "thematic-predictions"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "BRL"
	}
	if c.Payment.RequestTimeout <= 0 {
		c.Payment.RequestTimeout = 30 * time.Second
	}
	if c.Prediction.BaseAmount == "" {
		c.Prediction.BaseAmount = "5.90"
	}
	if c.Prediction.DiscountRate == "" {
		c.Prediction.DiscountRate = "0.30"
	}
	if c.Prediction.ValidityWindow <= 0 {
		c.Prediction.ValidityWindow = 1440 * time.Minute
	}
	if c.Prediction.ConfirmMaxAttempts <= 0 {
		c.Prediction.ConfirmMaxAttempts = 3
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 30 * time.Second
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-3.5-turbo"
	}
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Prediction.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("prediction config: %v", err))
	}

	if err := c.Observability.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
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
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// AdminEnabled reports whether a key pair was configured.
func (c *SecurityConfig) AdminEnabled() bool {
	return c.JWTPrivateKey != "" || c.JWTPublicKey != ""
}

func (c *SecurityConfig) Validate() error {
	if !c.AdminEnabled() {
		return nil
	}
	if c.JWTPublicKey == "" {
		return errors.New("jwt_public_key is required when jwt_private_key is set")
	}
	if _, err := c.GetPublicKey(); err != nil {
		return fmt.Errorf("invalid JWT public key: %w", err)
	}
	if c.JWTPrivateKey != "" {
		if _, err := c.GetPrivateKey(); err != nil {
			return fmt.Errorf("invalid JWT private key: %w", err)
		}
	}
	return nil
}

func (c *SecurityConfig) GetPrivateKey() (*rsa.PrivateKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func (c *PaymentConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if _, err := url.Parse(c.APIURL); err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if c.AccessToken == "" {
		return errors.New("access_token is required")
	}
	if c.AsyncWebhooks && c.MaxWorkers < 0 {
		return errors.New("max_workers cannot be negative")
	}
	return nil
}

func (c *PredictionConfig) Validate() error {
	base, err := decimal.NewFromString(c.BaseAmount)
	if err != nil {
		return fmt.Errorf("invalid base_amount: %w", err)
	}
	if !base.IsPositive() {
		return errors.New("base_amount must be positive")
	}
	rate, err := decimal.NewFromString(c.DiscountRate)
	if err != nil {
		return fmt.Errorf("invalid discount_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("discount_rate must be in [0, 1)")
	}
	if c.ValidityWindow <= 0 {
		return errors.New("validity_window must be positive")
	}
	if c.ConfirmMaxAttempts < 1 {
		return errors.New("confirm_max_attempts must be at least 1")
	}
	return nil
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported level %q", c.Level)
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported format %q", c.Format)
	}
	return nil
}
