package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// loadConfig builds the configuration from the tier defaults and KESTREL_*
// environment overrides.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	env := envReader{}

	cfg.Server.Host = env.getString("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = env.getInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Repository.SQLitePath = env.getString("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	if host := os.Getenv("KESTREL_POSTGRES_HOST"); host != "" {
		cfg.Repository.Driver = "postgres"
		cfg.Repository.PostgresHost = host
	}
	cfg.Repository.PostgresPort = env.getInt("KESTREL_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = env.getString("KESTREL_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = env.getString("KESTREL_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = env.getString("KESTREL_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = env.getString("KESTREL_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	if addr := os.Getenv("KESTREL_REDIS_ADDR"); addr != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = addr
	}
	cfg.Cache.RedisPassword = env.getString("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	if url := os.Getenv("KESTREL_NATS_URL"); url != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = url
	}
	cfg.EventBus.NATSToken = env.getString("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)

	cfg.Compliance.StrictTrades = env.getBool("KESTREL_STRICT_TRADES", cfg.Compliance.StrictTrades)
	cfg.Compliance.ExpiryWindowDays = env.getInt("KESTREL_EXPIRY_WINDOW_DAYS", cfg.Compliance.ExpiryWindowDays)
	cfg.Compliance.CheckCacheTTL = env.getDuration("KESTREL_CHECK_CACHE_TTL", cfg.Compliance.CheckCacheTTL)
	cfg.Compliance.ExpiryScanInterval = env.getDuration("KESTREL_EXPIRY_SCAN_INTERVAL", cfg.Compliance.ExpiryScanInterval)
	if tenants := os.Getenv("KESTREL_TENANTS"); tenants != "" {
		cfg.Compliance.Tenants = splitTenants(tenants)
	}

	cfg.Tracing.Enabled = env.getBool("KESTREL_TRACING", cfg.Tracing.Enabled)

	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

// envReader parses typed variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func splitTenants(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" && t != domain.GlobalTenant {
			out = append(out, t)
		}
	}
	return out
}
