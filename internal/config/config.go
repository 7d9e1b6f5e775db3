package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ModeClientFIFO     = "client_fifo"
	ModeServerDeferred = "server_deferred"
)

type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Auth           AuthConfig
	Log            LogConfig
	Offline        OfflineConfig
	Network        NetworkConfig
	Sync           SyncConfig
	Reconciliation ReconciliationConfig
}

type AppConfig struct {
	Env           string
	Port          string
	AllowedOrigin string
	CompanyID     string
	StoreID       string
	DeviceID      string
}

type DatabaseConfig struct {
	URL        string
	AutoSchema bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type OfflineConfig struct {
	QueueCapacity int
}

type NetworkConfig struct {
	ProbeInterval   time.Duration
	ProbeTimeout    time.Duration
	ConfirmInterval time.Duration
}

type SyncConfig struct {
	MaxAttempts int
	LockTTL     time.Duration
}

type ReconciliationConfig struct {
	Mode          string
	SweepInterval time.Duration
	LookbackDays  int
}

// Load reads an optional .env file, then KASIRSYNC_* environment variables
// (e.g. KASIRSYNC_APP_PORT, KASIRSYNC_SYNC_MAX_ATTEMPTS).
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("KASIRSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		App: AppConfig{
			Env:           v.GetString("app.env"),
			Port:          v.GetString("app.port"),
			AllowedOrigin: v.GetString("app.allowed_origin"),
			CompanyID:     v.GetString("app.company_id"),
			StoreID:       v.GetString("app.store_id"),
			DeviceID:      v.GetString("app.device_id"),
		},
		Database: DatabaseConfig{
			URL:        strings.TrimSpace(v.GetString("database.url")),
			AutoSchema: v.GetBool("database.auto_schema"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("redis.addr")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Secret:   strings.TrimSpace(v.GetString("auth.secret")),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Offline: OfflineConfig{
			QueueCapacity: v.GetInt("offline.queue_capacity"),
		},
		Network: NetworkConfig{
			ProbeInterval:   v.GetDuration("network.probe_interval"),
			ProbeTimeout:    v.GetDuration("network.probe_timeout"),
			ConfirmInterval: v.GetDuration("network.confirm_interval"),
		},
		Sync: SyncConfig{
			MaxAttempts: v.GetInt("sync.max_attempts"),
			LockTTL:     v.GetDuration("sync.lock_ttl"),
		},
		Reconciliation: ReconciliationConfig{
			Mode:          strings.ToLower(strings.TrimSpace(v.GetString("reconciliation.mode"))),
			SweepInterval: v.GetDuration("reconciliation.sweep_interval"),
			LookbackDays:  v.GetInt("reconciliation.lookback_days"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("app.company_id", "main-company")
	v.SetDefault("app.store_id", "main-store")
	v.SetDefault("app.device_id", "terminal-1")
	v.SetDefault("database.url", "")
	v.SetDefault("database.auto_schema", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("offline.queue_capacity", 500)
	v.SetDefault("network.probe_interval", 10*time.Second)
	v.SetDefault("network.probe_timeout", 3*time.Second)
	v.SetDefault("network.confirm_interval", 2*time.Second)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.lock_ttl", 30*time.Second)
	v.SetDefault("reconciliation.mode", ModeClientFIFO)
	v.SetDefault("reconciliation.sweep_interval", 15*time.Minute)
	v.SetDefault("reconciliation.lookback_days", 7)
}

func (c Config) validate() error {
	switch c.Reconciliation.Mode {
	case ModeClientFIFO, ModeServerDeferred:
	default:
		return fmt.Errorf("reconciliation mode must be %s or %s, got %q", ModeClientFIFO, ModeServerDeferred, c.Reconciliation.Mode)
	}
	if c.Offline.QueueCapacity < 1 {
		return errors.New("offline queue capacity must be positive")
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("sync max attempts must be positive")
	}
	if c.Network.ProbeInterval <= 0 || c.Network.ProbeTimeout <= 0 {
		return errors.New("network probe interval and timeout must be positive")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.App.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}
