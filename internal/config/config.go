package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/thrillee/aegisbulk/pkg/codes"
)

type ManagerAPIConfig struct {
	Addr         string        `envconfig:"API_ADDR"          default:":8081"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT"  default:"30s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"0s"` // SSE streams stay open
	IdleTimeout  time.Duration `envconfig:"API_IDLE_TIMEOUT"  default:"60s"`
	APIKeyHash   string        `envconfig:"API_KEY_HASH"`                  // bcrypt hash; empty disables the check
}

// Config holds the overall application configuration.
type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL"    default:"info"`
	DatabaseURL string `envconfig:"DATABASE_URL"` // Run history is disabled when empty
	Compose     ComposeConfig
	Dispatch    DispatchConfig
	Gateway     GatewayConfig
	SMPP        SMPPConfig
	Redis       RedisConfig
	Notify      NotifyConfig
	ManagerAPI  ManagerAPIConfig
}

// ComposeConfig holds the limits of the compose session.
type ComposeConfig struct {
	DefaultRegion    string `envconfig:"DEFAULT_REGION"     default:"UG"`
	MaxBatchSize     int    `envconfig:"MAX_BATCH_SIZE"     default:"100"`
	SegmentCharLimit int    `envconfig:"SEGMENT_CHAR_LIMIT" default:"160"`
	MaxSegments      int    `envconfig:"MAX_SEGMENTS"       default:"10"`
	GroupPageSize    int    `envconfig:"GROUP_PAGE_SIZE"    default:"100"`
}

// DispatchConfig holds send loop tuning.
type DispatchConfig struct {
	Concurrency int `envconfig:"DISPATCH_CONCURRENCY" default:"5"`
}

// GatewayConfig describes the remote SMS platform API.
type GatewayConfig struct {
	Transport        string        `envconfig:"GATEWAY_TRANSPORT"        default:"http"`
	BaseURL          string        `envconfig:"GATEWAY_BASE_URL"`
	APIKey           string        `envconfig:"GATEWAY_API_KEY"`
	Timeout          time.Duration `envconfig:"GATEWAY_TIMEOUT"          default:"30s"`
	RateLimit        float64       `envconfig:"GATEWAY_RATE_LIMIT"       default:"20"`
	RateBurst        int           `envconfig:"GATEWAY_RATE_BURST"       default:"5"`
	BreakerFailures  int           `envconfig:"GATEWAY_BREAKER_FAILURES" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"GATEWAY_BREAKER_COOLDOWN" default:"30s"`
	BreakerMinVolume int           `envconfig:"GATEWAY_BREAKER_VOLUME"   default:"10"`
}

// SMPPConfig is used when GATEWAY_TRANSPORT=smpp.
type SMPPConfig struct {
	Host           string        `envconfig:"SMPP_HOST"`
	Port           int           `envconfig:"SMPP_PORT"            default:"2775"`
	SystemID       string        `envconfig:"SMPP_SYSTEM_ID"`
	Password       string        `envconfig:"SMPP_PASSWORD"`
	SystemType     string        `envconfig:"SMPP_SYSTEM_TYPE"`
	EnquireLink    time.Duration `envconfig:"SMPP_ENQUIRE_LINK"    default:"30s"`
	RequestTimeout time.Duration `envconfig:"SMPP_REQUEST_TIMEOUT" default:"10s"`
}

// RedisConfig configures batch-queue snapshots. Empty Addr disables them.
type RedisConfig struct {
	Addr             string        `envconfig:"REDIS_ADDR"`
	Password         string        `envconfig:"REDIS_PASSWORD"`
	DB               int           `envconfig:"REDIS_DB"                default:"0"`
	SnapshotTTL      time.Duration `envconfig:"QUEUE_SNAPSHOT_TTL"      default:"24h"`
	SnapshotInterval time.Duration `envconfig:"QUEUE_SNAPSHOT_INTERVAL" default:"5s"`
}

// NotifyConfig controls operator notices. A zero threshold disables the low-balance check.
type NotifyConfig struct {
	Recipient           string          `envconfig:"NOTIFY_RECIPIENT"`
	LowBalanceThreshold decimal.Decimal `envconfig:"LOW_BALANCE_THRESHOLD" default:"0"`
	LowBalanceInterval  time.Duration   `envconfig:"LOW_BALANCE_INTERVAL"  default:"5m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	} else {
		log.Println(".env loaded")
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded successfully (API Addr: %s, Transport: %s)", cfg.ManagerAPI.Addr, cfg.Gateway.Transport)
	return &cfg, nil
}

// Validate checks limits that envconfig defaults cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Compose.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("MAX_BATCH_SIZE must be > 0"))
	}
	if c.Compose.SegmentCharLimit <= 0 {
		errs = append(errs, errors.New("SEGMENT_CHAR_LIMIT must be > 0"))
	}
	if c.Compose.MaxSegments <= 0 {
		errs = append(errs, errors.New("MAX_SEGMENTS must be > 0"))
	}
	if c.Compose.GroupPageSize <= 0 {
		errs = append(errs, errors.New("GROUP_PAGE_SIZE must be > 0"))
	}
	if c.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be > 0"))
	}

	// Wallet stats, templates and contact groups always come from the platform API.
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_BASE_URL is required"))
	}

	c.Gateway.Transport = strings.ToLower(c.Gateway.Transport)
	switch c.Gateway.Transport {
	case codes.TransportHTTP:
	case codes.TransportSMPP:
		if c.SMPP.Host == "" || c.SMPP.SystemID == "" {
			errs = append(errs, errors.New("SMPP_HOST and SMPP_SYSTEM_ID are required for the smpp transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_TRANSPORT %q is not supported", c.Gateway.Transport))
	}
	return errors.Join(errs...)
}
