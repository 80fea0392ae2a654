package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ScanDock/config"
	"github.com/BearBump/ScanDock/internal/broker/kafka"
	"github.com/BearBump/ScanDock/internal/cache/rediscache"
	"github.com/BearBump/ScanDock/internal/services/scans"
	"github.com/BearBump/ScanDock/internal/storage/pgscan"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ScanDock.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.ShipmentScannedTopicName
	if topic == "" {
		topic = "shipment.scanned"
	}
	cacheTTL := time.Duration(cfg.ScanDock.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	duplicateWindow := time.Duration(cfg.ScanDock.DuplicateWindowSeconds) * time.Second
	conflictWindow := time.Duration(cfg.ScanDock.ConflictWindowSeconds) * time.Second

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	svc := scans.New(st, rl, producer, rc, topic).
		WithStatusTTL(cacheTTL).
		WithWindows(duplicateWindow, conflictWindow).
		WithRateLimits(int64(cfg.ScanDock.ScanRateLimitPerHour), int64(cfg.ScanDock.BulkRateLimitPerHour), time.Hour)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runScanAPI(ctx, scanAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}, svc); err != nil && err != context.Canceled {
		panic(err)
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgscan.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgscan.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}
