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
	DeedBox  DeedBoxConfig  `yaml:"deedbox"`
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
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	OrderUpdatedTopicName string `yaml:"order_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DeedBoxConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`
	WorkerMaxAutoAttempts     int `yaml:"worker_max_auto_attempts"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Worker scheduling (optional). If not set, defaults are minutes-scale:
	// backoff: 2/5/15/60 minutes between automatic attempts.
	WorkerBackoff1Seconds int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds int `yaml:"worker_backoff_4_seconds"`

	PortalBaseURL             string `yaml:"portal_base_url"`
	PortalMode                string `yaml:"portal_mode"` // "chrome" | "fake"
	PortalHeadless            *bool  `yaml:"portal_headless"`
	PortalNavTimeoutSeconds   int    `yaml:"portal_nav_timeout_seconds"`
	PortalReadyTimeoutSeconds int    `yaml:"portal_ready_timeout_seconds"`

	PaymentProvider string `yaml:"payment_provider"` // "stripe" | "fake"
	// Stripe secret key is read from the STRIPE_API_KEY env var, never from YAML.

	GCSBucket        string `yaml:"gcs_bucket"`
	GCSPublicBaseURL string `yaml:"gcs_public_base_url"`

	MailMode     string `yaml:"mail_mode"` // "smtp" | "fake"
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	// SMTP password is read from the SMTP_PASSWORD env var.
	MailFrom string `yaml:"mail_from"`
	OpsEmail string `yaml:"ops_email"`
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
