package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	SubmissionEvents string `mapstructure:"submission-events"`
	DocumentEvents   string `mapstructure:"document-events"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Gateway struct {
	BaseURL         string `mapstructure:"base-url"`
	ConsumerKey     string `mapstructure:"consumer-key"`
	ConsumerSecret  string `mapstructure:"consumer-secret"`
	ShortCode       string `mapstructure:"short-code"`
	PassKey         string `mapstructure:"pass-key"`
	CallbackURL     string `mapstructure:"callback-url"`
	TransactionType string `mapstructure:"transaction-type"`
	TimeoutMs       int    `mapstructure:"timeout-ms"`
	TokenCooldownMs int    `mapstructure:"token-cooldown-ms"`
}

func (g Gateway) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Poller struct {
	IntervalMs              int `mapstructure:"interval-ms"`
	MaxAttempts             int `mapstructure:"max-attempts"`
	ProcessingGraceAttempts int `mapstructure:"processing-grace-attempts"`
	QueryTimeoutMs          int `mapstructure:"query-timeout-ms"`
}

// Callback controls the sweep that replays parked gateway callbacks.
type Callback struct {
	ReplayIntervalMs  int `mapstructure:"replay-interval-ms"`
	ReplayWindowHours int `mapstructure:"replay-window-hours"`
	ReplayBatchSize   int `mapstructure:"replay-batch-size"`
}

func (c Callback) ReplayInterval() time.Duration {
	return time.Duration(c.ReplayIntervalMs) * time.Millisecond
}

func (c Callback) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowHours) * time.Hour
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type Download struct {
	Bucket     string `mapstructure:"bucket"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"`
	Prefix     string `mapstructure:"prefix"`
	TTLSeconds int    `mapstructure:"ttl-seconds"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database Database       `mapstructure:"database"`
	Kafka    Kafka          `mapstructure:"kafka"`
	Gateway  Gateway        `mapstructure:"gateway"`
	Redis    Redis          `mapstructure:"redis"`
	Pricing  map[string]int `mapstructure:"pricing"`
	Poller   Poller         `mapstructure:"poller"`
	Callback Callback       `mapstructure:"callback"`
	Outbox   Outbox         `mapstructure:"outbox"`
	Download Download       `mapstructure:"download"`
	Server   Server         `mapstructure:"server"`
	Metrics  Metrics        `mapstructure:"metrics"`
	Logs     Logs           `mapstructure:"logs"`
}

// Keys that only come from the environment need a default so that
// Unmarshal sees them.
var envOnlyKeys = []string{
	"database.user", "database.password", "database.name", "database.host", "database.port",
	"kafka.broker.url",
	"gateway.base-url", "gateway.consumer-key", "gateway.consumer-secret", "gateway.short-code",
	"gateway.pass-key", "gateway.callback-url",
	"redis.addr", "redis.password",
	"download.bucket", "download.region", "download.endpoint",
	"metrics.url", "metrics.common-labels",
	"logs.url", "logs.file",
}

func setDefaults(v *viper.Viper) {
	for _, key := range envOnlyKeys {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.db", 0)
	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("kafka.topic.submission-events", "submission-events")
	v.SetDefault("kafka.topic.document-events", "document-events")
	v.SetDefault("kafka.reader.group-id", "docpay-service")
	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("gateway.transaction-type", "CustomerPayBillOnline")
	v.SetDefault("gateway.timeout-ms", 15_000)
	v.SetDefault("gateway.token-cooldown-ms", 5_000)
	v.SetDefault("poller.interval-ms", 3_000)
	v.SetDefault("poller.max-attempts", 40)
	v.SetDefault("poller.processing-grace-attempts", 40)
	v.SetDefault("poller.query-timeout-ms", 2_500)
	v.SetDefault("callback.replay-interval-ms", 30_000)
	v.SetDefault("callback.replay-window-hours", 24)
	v.SetDefault("callback.replay-batch-size", 100)
	v.SetDefault("outbox.polling-interval-ms", 500)
	v.SetDefault("outbox.fetch-size", 200)
	v.SetDefault("outbox.reschedule-delay-ms", 10_000)
	v.SetDefault("outbox.max-publish-attempts", 3)
	v.SetDefault("download.prefix", "documents")
	v.SetDefault("download.ttl-seconds", 300)
	v.SetDefault("logs.level", "info")
}

// LoadConfig reads config.yaml from path. Every key can be overridden from
// the environment, e.g. gateway.consumer-key by GATEWAY_CONSUMER_KEY. A .env
// file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Poller.MaxAttempts <= 0 || c.Poller.IntervalMs <= 0 {
		return fmt.Errorf("poller budget must be finite and positive: interval-ms=%d max-attempts=%d",
			c.Poller.IntervalMs, c.Poller.MaxAttempts)
	}
	if c.Callback.ReplayIntervalMs <= 0 {
		return fmt.Errorf("callback.replay-interval-ms must be positive")
	}
	if c.Gateway.TimeoutMs <= 0 || c.Poller.QueryTimeoutMs <= 0 {
		return fmt.Errorf("gateway.timeout-ms and poller.query-timeout-ms must be positive")
	}
	return nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
