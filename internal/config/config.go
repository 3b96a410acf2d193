// Package config loads and validates the service's configuration from
// environment variables, per spec §6. No config file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for cmd/loist-mcp.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Log      LogConfig
	CORS     CORSConfig
	DB       DBConfig
	Object   ObjectConfig
	Embed    EmbedConfig
	RateLimit RateLimitConfig
}

// ServerConfig selects the RPC transport and the listen addresses. The
// embed/oEmbed HTTP surface (component J) and the RPC tool surface
// (component I) are two concurrently-live surfaces per spec §1/§2: Port is
// always the embed/oEmbed listener, while RPCPort additionally hosts the
// RPC surface when Transport is "http" or "sse" (stdio needs no port).
type ServerConfig struct {
	Host      string
	Port      int
	RPCPort   int
	Transport string // stdio|http|sse
}

// AuthConfig gates the RPC tool surface behind a shared bearer token.
type AuthConfig struct {
	Enabled bool
	Token   string
}

// LogConfig controls slog's handler and level.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|text
}

// CORSConfig lists the origins the HTTP surface accepts.
type CORSConfig struct {
	AllowedOrigins []string
}

// DBConfig is the Postgres connection and pool configuration (components F/G).
type DBConfig struct {
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	ConnectionName string // e.g. Cloud SQL instance connection name
	MinConns       int32
	MaxConns       int32
}

// DSN renders the libpq connection string pgxpool.ParseConfig expects.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// ObjectConfig addresses the backing object-store bucket (component D).
type ObjectConfig struct {
	Bucket  string
	Project string
	Region  string
}

// EmbedConfig configures the embed/oEmbed HTTP surface (component J).
type EmbedConfig struct {
	BaseURL        string
	SignedURLTTL   time.Duration
}

// RateLimitConfig addresses the Redis-backed limiter.
type RateLimitConfig struct {
	RedisAddr string
	RedisDB   int
}

// Load reads configuration from environment variables (prefix LOIST_),
// falling back to the defaults below, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("loist")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rpc_port", 8081)
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cors.allowed_origins", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "loist")
	v.SetDefault("db.user", "loist")
	v.SetDefault("db.password", "")
	v.SetDefault("db.connection_name", "")
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("object.bucket", "")
	v.SetDefault("object.project", "")
	v.SetDefault("object.region", "")
	v.SetDefault("embed.base_url", "http://localhost:8080")
	v.SetDefault("embed.signed_url_ttl_minutes", 15)
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.redis_db", 0)

	cfg := &Config{
		Server: ServerConfig{
			Host:      v.GetString("server.host"),
			Port:      v.GetInt("server.port"),
			RPCPort:   v.GetInt("server.rpc_port"),
			Transport: v.GetString("server.transport"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
			Token:   v.GetString("auth.token"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitNonEmpty(v.GetString("cors.allowed_origins")),
		},
		DB: DBConfig{
			Host:           v.GetString("db.host"),
			Port:           v.GetInt("db.port"),
			Name:           v.GetString("db.name"),
			User:           v.GetString("db.user"),
			Password:       v.GetString("db.password"),
			ConnectionName: v.GetString("db.connection_name"),
			MinConns:       int32(v.GetInt("db.min_conns")),
			MaxConns:       int32(v.GetInt("db.max_conns")),
		},
		Object: ObjectConfig{
			Bucket:  v.GetString("object.bucket"),
			Project: v.GetString("object.project"),
			Region:  v.GetString("object.region"),
		},
		Embed: EmbedConfig{
			BaseURL:      v.GetString("embed.base_url"),
			SignedURLTTL: time.Duration(v.GetInt("embed.signed_url_ttl_minutes")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RedisAddr: v.GetString("ratelimit.redis_addr"),
			RedisDB:   v.GetInt("ratelimit.redis_db"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http", "sse":
	default:
		return fmt.Errorf("invalid server transport %q: must be stdio, http, or sse", c.Server.Transport)
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("auth.enabled is true but auth.token is empty")
	}
	if c.Object.Bucket == "" {
		return fmt.Errorf("object.bucket must be set")
	}
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
