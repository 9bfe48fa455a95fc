package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultDataRoot     = "data"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "parrot"
	DefaultPGSSLMode    = "disable"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Admin       AdminConfig       `toml:"admin"`
	Auth        AuthConfig        `toml:"auth"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Discord     DiscordConfig     `toml:"discord"`
	Media       MediaConfig       `toml:"media"`
	AutoRespond AutoRespondConfig `toml:"autorespond"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	// PasswordHash is a bcrypt hash of the admin password.
	PasswordHash string `toml:"password_hash"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type DiscordConfig struct {
	BotToken string `toml:"bot_token"`
}

type MediaConfig struct {
	DataRoot            string `toml:"data_root"`
	MaxFetchBytes       int64  `toml:"max_fetch_bytes"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	FetchRetries        int    `toml:"fetch_retries"`
}

type AutoRespondConfig struct {
	CacheTTLSeconds      int    `toml:"cache_ttl_seconds"`
	CacheCapacity        int    `toml:"cache_capacity"`
	MediaCooldownSeconds int    `toml:"media_cooldown_seconds"`
	ErrorCooldownSeconds int    `toml:"error_cooldown_seconds"`
	SweepSchedule        string `toml:"sweep_schedule"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// MigrateURL is the DSN form expected by golang-migrate's pgx/v5 driver.
func (c PostgresConfig) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Media: MediaConfig{
			DataRoot:            DefaultDataRoot,
			MaxFetchBytes:       15 * 1024 * 1024,
			FetchTimeoutSeconds: 12,
			FetchRetries:        2,
		},
		AutoRespond: AutoRespondConfig{
			CacheTTLSeconds:      600,
			CacheCapacity:        128,
			MediaCooldownSeconds: 7,
			ErrorCooldownSeconds: 300,
			SweepSchedule:        "@hourly",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
