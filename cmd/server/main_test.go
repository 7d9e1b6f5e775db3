package main

import (
	"testing"

	"kasirsync/backend/internal/config"
)

func productionConfig() config.Config {
	return config.Config{
		App: config.AppConfig{
			Env:           "production",
			AllowedOrigin: "https://pos.example.com",
			DeviceID:      "terminal-1",
		},
		Database: config.DatabaseConfig{URL: "postgres://pos@db/pos"},
		Auth:     config.AuthConfig{Secret: "0123456789abcdef0123456789abcdef"},
	}
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cfg := productionConfig()
	cfg.Auth.Secret = "short"
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}

	cfg = productionConfig()
	cfg.App.AllowedOrigin = "*"
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}

	cfg = productionConfig()
	cfg.Database.URL = ""
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected in-memory store to be rejected in production")
	}

	cfg = productionConfig()
	cfg.App.DeviceID = " "
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected missing device id to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	if err := validateSecurityConfig(productionConfig()); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigRelaxedOutsideProduction(t *testing.T) {
	cfg := config.Config{App: config.AppConfig{Env: "development", AllowedOrigin: "*", DeviceID: "terminal-1"}}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected development config to pass, got %v", err)
	}
}
