package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ScanDock ScanDockConfig `yaml:"scandock"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ShipmentScannedTopicName string `yaml:"shipment_scanned_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScanDockConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	// Окна валидации сканов (секунды): подавление дублей и детект конфликтов.
	DuplicateWindowSeconds int `yaml:"duplicate_window_seconds"`
	ConflictWindowSeconds  int `yaml:"conflict_window_seconds"`

	// Лимиты на устройство, фиксированное окно в час.
	ScanRateLimitPerHour int `yaml:"scan_rate_limit_per_hour"`
	BulkRateLimitPerHour int `yaml:"bulk_rate_limit_per_hour"`

	NotifierHTTPAddr        string   `yaml:"notifier_http_addr"`
	NotifierConcurrency     int      `yaml:"notifier_concurrency"`
	NotifierWebhookURLs     []string `yaml:"notifier_webhook_urls"`
	NotifierWebhookSecret   string   `yaml:"notifier_webhook_secret"`
	NotifierMaxAttempts     int      `yaml:"notifier_max_attempts"`
	NotifierTimeoutSeconds  int      `yaml:"notifier_timeout_seconds"`
	NotifierBackoff1Seconds int      `yaml:"notifier_backoff_1_seconds"`
	NotifierBackoff2Seconds int      `yaml:"notifier_backoff_2_seconds"`
	NotifierBackoff3Seconds int      `yaml:"notifier_backoff_3_seconds"`
	NotifierBackoff4Seconds int      `yaml:"notifier_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
