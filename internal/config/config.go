// Package config loads process-wide engine defaults: the cache
// directory/TTL, default listen host, and certs directory. Per-
// instance settings (port, upstream credentials, extract/ignore
// rules) are a separate, caller-owned, mutable surface -- see
// internal/engineconfig -- since those take effect on new flows only
// and are not a static startup-time concern.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults holds the engine-wide settings read once at process start.
type Defaults struct {
	DefaultListenHost string
	CacheDir          string
	CertsDir          string
	CacheTTLSeconds   int
}

// Load reads a .env file (if present) then environment variables,
// so local development can override defaults without exporting them
// into the shell.
func Load() Defaults {
	_ = godotenv.Load()

	return Defaults{
		DefaultListenHost: getEnv("PROXY_LISTEN_HOST", "127.0.0.1"),
		CacheDir:          getEnv("PROXY_CACHE_DIR", "Cache"),
		CertsDir:          getEnv("PROXY_CERTS_DIR", "certs"),
		CacheTTLSeconds:   getEnvInt("PROXY_CACHE_TTL_SECONDS", 24*60*60),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
