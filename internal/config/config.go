package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	Hub    HubConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type HubConfig struct {
	RecoveryWindow time.Duration
	TypingCooldown time.Duration
	TypingExpiry   time.Duration
}

func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("PRESENCE_HOST", "")
		viper.SetDefault("PRESENCE_PORT", "8080")
		viper.SetDefault("PRESENCE_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("PRESENCE_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("PRESENCE_IDLE_TIMEOUT", 120*time.Second)
		viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("KAFKA_BROKERS", "")
		viper.SetDefault("KAFKA_TOPIC", "chat-messages")
		viper.SetDefault("RECOVERY_WINDOW", 30*time.Second)
		viper.SetDefault("TYPING_COOLDOWN", 1*time.Second)
		viper.SetDefault("TYPING_EXPIRY", 3*time.Second)
		viper.AutomaticEnv()

		ConfigInstance = &Config{
			Server: ServerConfig{
				Host:           viper.GetString("PRESENCE_HOST"),
				Port:           viper.GetString("PRESENCE_PORT"),
				ReadTimeout:    viper.GetDuration("PRESENCE_READ_TIMEOUT"),
				WriteTimeout:   viper.GetDuration("PRESENCE_WRITE_TIMEOUT"),
				IdleTimeout:    viper.GetDuration("PRESENCE_IDLE_TIMEOUT"),
				AllowedOrigins: splitList(viper.GetString("ALLOWED_ORIGINS")),
			},
			Redis: RedisConfig{
				URL: viper.GetString("REDIS_URL"),
			},
			Kafka: KafkaConfig{
				Brokers: splitList(viper.GetString("KAFKA_BROKERS")),
				Topic:   viper.GetString("KAFKA_TOPIC"),
			},
			Hub: HubConfig{
				RecoveryWindow: viper.GetDuration("RECOVERY_WINDOW"),
				TypingCooldown: viper.GetDuration("TYPING_COOLDOWN"),
				TypingExpiry:   viper.GetDuration("TYPING_EXPIRY"),
			},
		}
	})

	return ConfigInstance, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
