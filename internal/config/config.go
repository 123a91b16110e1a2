package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                    = "DRAFTHUB"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabasePath          = "drafthub.db"
	defaultLogLevel              = "info"
	defaultTokenTTLMinutes       = 30
	defaultSnapshotIntervalMin   = 5
	defaultSnapshotByteThreshold = 100
	defaultHeartbeatSeconds      = 30
	defaultHeartbeatGraceSeconds = 60
)

// AppConfig captures runtime configuration for the collaboration server.
type AppConfig struct {
	HTTPAddress           string
	SigningSecret         string
	TokenTTL              time.Duration
	DatabasePath          string
	LogLevel              string
	SnapshotInterval      time.Duration
	SnapshotByteThreshold int
	HeartbeatInterval     time.Duration
	HeartbeatGrace        time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("snapshot.interval_minutes", defaultSnapshotIntervalMin)
	configViper.SetDefault("snapshot.byte_threshold", defaultSnapshotByteThreshold)
	configViper.SetDefault("heartbeat.interval_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("heartbeat.grace_seconds", defaultHeartbeatGraceSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		SigningSecret:         configViper.GetString("auth.signing_secret"),
		TokenTTL:              time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		SnapshotInterval:      time.Duration(configViper.GetInt("snapshot.interval_minutes")) * time.Minute,
		SnapshotByteThreshold: configViper.GetInt("snapshot.byte_threshold"),
		HeartbeatInterval:     time.Duration(configViper.GetInt("heartbeat.interval_seconds")) * time.Second,
		HeartbeatGrace:        time.Duration(configViper.GetInt("heartbeat.grace_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot.interval_minutes must be positive")
	}
	if c.SnapshotByteThreshold <= 0 {
		return fmt.Errorf("snapshot.byte_threshold must be positive")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatGrace <= c.HeartbeatInterval {
		return fmt.Errorf("heartbeat.grace_seconds must exceed heartbeat.interval_seconds")
	}
	return nil
}
