package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration
type Config struct {
	Runtime    RuntimeConfig    `envconfig:"RUNTIME"`
	Twitter    TwitterConfig    `envconfig:"TWITTER"`
	OpenAI     OpenAIConfig     `envconfig:"OPENAI"`
	Grok       GrokConfig       `envconfig:"GROK"`
	Solana     SolanaConfig     `envconfig:"SOLANA"`
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Telegram   TelegramConfig   `envconfig:"TELEGRAM"`
	Logging    LoggingConfig    `envconfig:"LOGGING"`
	Agents     AgentsConfig     `envconfig:"AGENTS"`
}

// RuntimeConfig represents process-level parameters
type RuntimeConfig struct {
	Host        string        `envconfig:"HOST" default:"0.0.0.0"`
	Port        int           `envconfig:"PORT" default:"8080"`
	Workers     int           `envconfig:"WORKERS" default:"4"`
	Environment string        `envconfig:"ENVIRONMENT" default:"development"`
	GracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"15s"`
	CallTimeout time.Duration `envconfig:"CAPABILITY_CALL_TIMEOUT" default:"30s"`
}

// TwitterConfig holds the global default microblog credential set.
// Agents without inline credentials fall back to these.
type TwitterConfig struct {
	APIKey            string `envconfig:"TWITTER_API_KEY" required:"false"`
	APISecret         string `envconfig:"TWITTER_API_SECRET" required:"false"`
	AccessToken       string `envconfig:"TWITTER_ACCESS_TOKEN" required:"false"`
	AccessTokenSecret string `envconfig:"TWITTER_ACCESS_TOKEN_SECRET" required:"false"`
	BearerToken       string `envconfig:"TWITTER_BEARER_TOKEN" required:"false"`
	// Global minimum interval between mention polls sharing a credential
	PollInterval time.Duration `envconfig:"TWITTER_POLL_INTERVAL" default:"60s"`
	// Platform cap used by the rate gate: calls per 15-minute window
	WindowCalls int `envconfig:"TWITTER_WINDOW_CALLS" default:"300"`
}

// OpenAIConfig represents the default language-model provider
type OpenAIConfig struct {
	APIKey       string `envconfig:"OPENAI_API_KEY" required:"false"`
	Model        string `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	Organization string `envconfig:"OPENAI_ORGANIZATION" required:"false"`
}

// GrokConfig represents the alternative language-model provider
type GrokConfig struct {
	APIKey   string `envconfig:"GROK_API_KEY" required:"false"`
	Endpoint string `envconfig:"GROK_API_ENDPOINT" default:"https://api.x.ai/v1"`
	Model    string `envconfig:"GROK_MODEL" default:"grok-2-latest"`
}

// SolanaConfig holds global chain defaults
type SolanaConfig struct {
	RPCURL     string `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	PubSubURL  string `envconfig:"SOLANA_PUBSUB_URL" required:"false"`
	PrivateKey string `envconfig:"SOLANA_PRIVATE_KEY" required:"false"`
}

// DatabaseConfig represents database connection parameters
type DatabaseConfig struct {
	Host           string `envconfig:"DB_HOST" default:"localhost"`
	Port           int    `envconfig:"DB_PORT" default:"5432"`
	Name           string `envconfig:"DB_NAME" default:"puppet_engine"`
	User           string `envconfig:"DB_USER" required:"true"`
	Password       string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode        string `envconfig:"DB_SSLMODE" default:"disable"`
	MigrationsPath string `envconfig:"DB_MIGRATIONS_PATH" default:"migrations"`
}

// RedisConfig represents fleet-lock and cache connection parameters
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" required:"false"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ClickHouseConfig represents the optional analytics sink
type ClickHouseConfig struct {
	Enabled bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Addr    string `envconfig:"CLICKHOUSE_ADDR" default:"localhost:9000"`
	Name    string `envconfig:"CLICKHOUSE_DB" default:"puppet_metrics"`
	User    string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Pass    string `envconfig:"CLICKHOUSE_PASSWORD" required:"false"`
}

// TelegramConfig represents the optional operator notifier
type TelegramConfig struct {
	BotToken      string `envconfig:"TELEGRAM_BOT_TOKEN" required:"false"`
	ChatID        int64  `envconfig:"TELEGRAM_CHAT_ID" required:"false"`
	AlertOnTrades bool   `envconfig:"TELEGRAM_ALERT_ON_TRADES" default:"true"`
	AlertOnErrors bool   `envconfig:"TELEGRAM_ALERT_ON_ERRORS" default:"true"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" required:"false"`
}

// AgentsConfig locates persona documents and per-agent state
type AgentsConfig struct {
	Dir     string `envconfig:"AGENTS_DIR" default:"agents"`
	DataDir string `envconfig:"AGENTS_DATA_DIR" default:"data"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" && c.Grok.APIKey == "" {
		return fmt.Errorf("at least one language-model provider must be configured")
	}

	if c.Runtime.Port <= 0 || c.Runtime.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Runtime.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Twitter.WindowCalls < 1 {
		return fmt.Errorf("twitter window calls must be positive")
	}
	if c.Twitter.PollInterval < time.Second {
		return fmt.Errorf("twitter poll interval must be at least 1s")
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram chat_id is required when bot token is set")
	}

	return nil
}

// GetDSN returns the ClickHouse connection string
func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name)
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
