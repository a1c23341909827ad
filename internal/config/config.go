package config

import (
    "os"
    "time"
)

// DefaultOptionsCacheTTL bounds how stale a quote's option list may be.
const DefaultOptionsCacheTTL = 10 * time.Minute

type Config struct {
    DatabaseURL     string
    Port            string
    OptionsCacheTTL time.Duration
}

func Load() Config {
    port := os.Getenv("PORT")
    if port == "" {
        port = "8080"
    }
    ttl := DefaultOptionsCacheTTL
    if v := os.Getenv("OPTIONS_CACHE_TTL"); v != "" {
        if d, err := time.ParseDuration(v); err == nil && d > 0 {
            ttl = d
        }
    }
    return Config{
        DatabaseURL:     os.Getenv("DATABASE_URL"),
        Port:            port,
        OptionsCacheTTL: ttl,
    }
}
