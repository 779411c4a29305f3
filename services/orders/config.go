package main

import (
	"fmt"
	"log"
	"os"
	"time"
)

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN builds the pgx connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=25&pool_min_conns=5",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

// Config é a configuração do serviço, lida das variáveis de ambiente
type Config struct {
	Port          string
	ServiceName   string
	OTLPEndpoint  string
	StoreDriver   string
	Database      DatabaseConfig
	MongoURI      string
	TxTimeout     time.Duration
	NotifyDriver  string
	NotifyTimeout time.Duration
	WebhookURL    string
	KafkaBrokers  string
	KafkaTopic    string
	PublicBaseURL string
}

func loadConfig() Config {
	return Config{
		Port:         getEnv("PORT", "8080"),
		ServiceName:  getEnv("SERVICE_NAME", "orders-service"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4318"),
		StoreDriver:  getEnv("STORE_DRIVER", "postgres"),
		Database: DatabaseConfig{
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "pass"),
			Host:     getEnv("DATABASE_HOST", "postgres"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			Name:     getEnv("DATABASE_NAME", "orders_db"),
		},
		MongoURI:      getEnv("MONGO_URI", "mongodb://mongo:27017/?replicaSet=rs0"),
		TxTimeout:     getDuration("ORDER_TX_TIMEOUT", 10*time.Second),
		NotifyDriver:  getEnv("NOTIFY_DRIVER", "none"),
		NotifyTimeout: getDuration("NOTIFY_TIMEOUT", 15*time.Second),
		WebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "order-confirmations"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("⚠️ Invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}
