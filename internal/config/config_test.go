package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if cfg.DB.Port != 5432 {
		t.Errorf("expected db port 5432, got %d", cfg.DB.Port)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("expected redis addr localhost:6379, got %s", cfg.Redis.Addr)
	}

	if cfg.Risk.AutoBlockThreshold != 0.9 {
		t.Errorf("expected auto_block_threshold 0.9, got %v", cfg.Risk.AutoBlockThreshold)
	}

	if !cfg.Risk.FailClosed {
		t.Errorf("expected fail-closed default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("KEMBRIDGE_ENV", "production")
	os.Setenv("KEMBRIDGE_SIGNER_KMS_KEY_ID", "arn:aws:kms:us-east-1:123456:key/test-key")
	os.Setenv("KEMBRIDGE_RISK_AUTO_BLOCK_THRESHOLD", "0.95")
	defer os.Unsetenv("KEMBRIDGE_ENV")
	defer os.Unsetenv("KEMBRIDGE_SIGNER_KMS_KEY_ID")
	defer os.Unsetenv("KEMBRIDGE_RISK_AUTO_BLOCK_THRESHOLD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}

	if cfg.Signer.KMSKeyID != "arn:aws:kms:us-east-1:123456:key/test-key" {
		t.Errorf("unexpected kms key id: %s", cfg.Signer.KMSKeyID)
	}

	if cfg.Risk.AutoBlockThreshold != 0.95 {
		t.Errorf("expected overridden auto_block_threshold 0.95, got %v", cfg.Risk.AutoBlockThreshold)
	}
}

func TestDBDSN(t *testing.T) {
	cfg := DBConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "kembridge",
		Password: "secret",
		DBName:   "kembridge",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=kembridge password=secret dbname=kembridge sslmode=disable"
	if cfg.DSN() != expected {
		t.Errorf("unexpected DSN:\ngot:  %s\nwant: %s", cfg.DSN(), expected)
	}
}
