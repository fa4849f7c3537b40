package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Worker string `envconfig:"WORKER" default:"transmission"`

	// TransmissionHost is the RPC endpoint handed to transmission-remote.
	TransmissionHost string `envconfig:"TR_HOST" default:"localhost:9091"`
	// TransmissionAuth switches transmission-remote to --authenv when truthy.
	TransmissionAuth string `envconfig:"TR_AUTH"`
	TransmissionBin  string `envconfig:"TR_REMOTE_BIN" default:"transmission-remote"`

	PutioToken     string `envconfig:"PUTIO_TOKEN"`
	PutioParentDir string `envconfig:"PUTIO_PARENT_DIR"`

	MaxRetries uint          `envconfig:"MAX_RETRIES" default:"5"`
	RetryDelay time.Duration `envconfig:"RETRY_DELAY" default:"1s"`

	PostProcess     string `envconfig:"POST_PROCESS" default:"rename"`
	ProcessedSuffix string `envconfig:"PROCESSED_SUFFIX" default:".added"`
	ProcessedDir    string `envconfig:"PROCESSED_DIR"`

	WatchBackend string        `envconfig:"WATCH_BACKEND" default:"auto"`
	SettleDelay  time.Duration `envconfig:"SETTLE_DELAY" default:"500ms"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	HistoryDBPath     string `envconfig:"HISTORY_DB_PATH"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `default:"false"`
		ServiceName  string `split_words:"true" default:"watchdir"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxRetries == 0 {
		return nil, fmt.Errorf("MAX_RETRIES must be at least 1")
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UseStoredAuth reports whether TR_AUTH holds a truthy value. Any non-empty
// value counts except the usual spellings of false.
func (c *Config) UseStoredAuth() bool {
	switch strings.ToLower(strings.TrimSpace(c.TransmissionAuth)) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
