package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Push     PushConfig     `yaml:"push"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AuthConfig holds the settings for verifying bearer tokens. Token issuance
// happens elsewhere; this service only validates.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MQTTConfig holds the broker connection settings for the device channel.
type MQTTConfig struct {
	BrokerURL          string `yaml:"broker_url"`
	ClientID           string `yaml:"client_id"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ReconnectSeconds   int    `yaml:"reconnect_seconds"`
	KeepAliveSeconds   int    `yaml:"keep_alive_seconds"`
}

// PushConfig holds the VAPID keys for web push notifications. Empty keys
// disable push entirely; alert dispatch then reports sends as skipped.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// LedgerConfig holds the start-request lifecycle settings.
type LedgerConfig struct {
	RequestTTLMinutes int           `yaml:"request_ttl_minutes"`
	RequestTTL        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.MQTT.ReconnectSeconds <= 0 {
		cfg.MQTT.ReconnectSeconds = 3
	}
	if cfg.MQTT.KeepAliveSeconds <= 0 {
		cfg.MQTT.KeepAliveSeconds = 30
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "carguard-backend"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Ledger.RequestTTLMinutes <= 0 {
		log.Printf("ledger.request_ttl_minutes is not set or invalid; defaulting to 20")
		cfg.Ledger.RequestTTLMinutes = 20
	}
	cfg.Ledger.RequestTTL = time.Duration(cfg.Ledger.RequestTTLMinutes) * time.Minute

	return &cfg, nil
}
