package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl: %v", cfg.TokenTTL)
	}
	if cfg.SnapshotInterval != 5*time.Minute {
		t.Fatalf("unexpected snapshot interval: %v", cfg.SnapshotInterval)
	}
	if cfg.SnapshotByteThreshold != 100 {
		t.Fatalf("unexpected byte threshold: %d", cfg.SnapshotByteThreshold)
	}
	if cfg.HeartbeatInterval != 30*time.Second || cfg.HeartbeatGrace != 60*time.Second {
		t.Fatalf("unexpected heartbeat tuning: %v / %v", cfg.HeartbeatInterval, cfg.HeartbeatGrace)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}
}

func TestLoadRejectsInvalidTuning(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"zero ttl":            {"auth.token_ttl_minutes": 0},
		"zero interval":       {"snapshot.interval_minutes": 0},
		"zero threshold":      {"snapshot.byte_threshold": 0},
		"grace not exceeding": {"heartbeat.interval_seconds": 60, "heartbeat.grace_seconds": 60},
	}

	for name, overrides := range cases {
		configViper := NewViper()
		configViper.Set("auth.signing_secret", "test-secret")
		for key, value := range overrides {
			configViper.Set(key, value)
		}
		if _, err := Load(configViper); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
