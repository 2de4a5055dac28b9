package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"hotel-concierge/internal/config"
	"hotel-concierge/internal/logger"
	"hotel-concierge/internal/resilience"
)

// connectPolicy covers containers that are still starting
var connectPolicy = resilience.Policy{
	Attempts:       5,
	Base:           2 * time.Second,
	AttemptTimeout: 5 * time.Second,
}

func setupLogger(cfg *config.Config) {
	slog.SetDefault(logger.New(logger.Options{
		Level:   cfg.App.LogLevel,
		Format:  cfg.App.LogFormat,
		Service: "concierge",
	}))
}

// connectMariaDB opens the pool and waits until the server answers
func connectMariaDB(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("configure mariadb driver: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	attempt := 0
	err = connectPolicy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("Cannot ping MariaDB", "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to mariadb at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	slog.Info("MariaDB connection established", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

// connectRedis creates the client and waits until the server answers
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	attempt := 0
	err := connectPolicy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Cannot ping Redis", "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("Redis connection established", "addr", cfg.Addr)
	return rdb, nil
}
