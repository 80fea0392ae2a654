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
	"github.com/BearBump/ScanDock/internal/services/notifier"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	topic := cfg.Kafka.ShipmentScannedTopicName
	if topic == "" {
		topic = "shipment.scanned"
	}
	consumerGroup := cfg.ScanDock.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "scan-notifier"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	n := notifier.New(consumer, cfg.ScanDock.NotifierWebhookURLs, cfg.ScanDock.NotifierWebhookSecret).
		WithSettings(
			cfg.ScanDock.NotifierConcurrency,
			cfg.ScanDock.NotifierMaxAttempts,
			time.Duration(cfg.ScanDock.NotifierTimeoutSeconds)*time.Second,
		).
		WithBackoff(notifier.BackoffConfig{
			Delay1: time.Duration(cfg.ScanDock.NotifierBackoff1Seconds) * time.Second,
			Delay2: time.Duration(cfg.ScanDock.NotifierBackoff2Seconds) * time.Second,
			Delay3: time.Duration(cfg.ScanDock.NotifierBackoff3Seconds) * time.Second,
			Delay4: time.Duration(cfg.ScanDock.NotifierBackoff4Seconds) * time.Second,
		})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runNotifierHTTPServer(ctx, notifierHTTPOpts{
			httpAddr:    cfg.ScanDock.NotifierHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			notifier:    n,
			cfg:         cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- n.Run(ctx)
	}()

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	case err := <-httpErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	}
}
