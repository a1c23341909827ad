package main

import (
    "context"
    "log"
    "net/http"
    "os"
    "strings"
    "time"

    "shiprates/internal/config"
    "shiprates/internal/db"
    "shiprates/internal/server"
    "shiprates/internal/store"
)

func main() {
    cfg := config.Load()

    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        log.Fatalf("DATABASE_URL not set. Please export DATABASE_URL before running.")
    }

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    pool, err := db.NewPool(ctx, cfg.DatabaseURL)
    if err != nil {
        log.Fatalf("failed to connect db: %v", err)
    }
    defer pool.Close()
    // Verify connectivity proactively
    if err := pool.Ping(ctx); err != nil {
        log.Fatalf("database ping failed: %v", err)
    }

    st := store.NewPgx(pool)
    r := server.New(st, cfg.OptionsCacheTTL)

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           r,
        ReadTimeout:       10 * time.Second,
        ReadHeaderTimeout: 10 * time.Second,
        WriteTimeout:      20 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    log.Printf("api listening on :%s (options cache ttl=%s)", cfg.Port, cfg.OptionsCacheTTL)
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Println("server error:", err)
        os.Exit(1)
    }
}
