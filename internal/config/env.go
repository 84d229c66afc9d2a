package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces deployment overrides, e.g. SIGNAL_POSTGRES_DSN.
const envPrefix = "SIGNAL"

// Env holds deployment settings that may be supplied through the
// environment instead of the YAML file. Unset variables leave the file
// value in place.
type Env struct {
	Environment    string   `envconfig:"ENVIRONMENT"`
	LogLevel       string   `envconfig:"LOG_LEVEL"`
	LogFormat      string   `envconfig:"LOG_FORMAT"`
	HTTPAddr       string   `envconfig:"HTTP_ADDR"`
	StorageBackend string   `envconfig:"STORAGE_BACKEND"`
	PostgresDSN    string   `envconfig:"POSTGRES_DSN"`
	ClickhouseDSN  string   `envconfig:"CLICKHOUSE_DSN"`
	RedisAddr      string   `envconfig:"REDIS_ADDR"`
	RedisPassword  string   `envconfig:"REDIS_PASSWORD"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS"`
	BrokerURL      string   `envconfig:"BROKER_URL"`
	PriceFeedURL   string   `envconfig:"PRICE_FEED_URL"`
	VaultToken     string   `envconfig:"VAULT_TOKEN"`
}

// ApplyEnv overlays SIGNAL_* environment variables onto c.
func ApplyEnv(c *Config) error {
	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read env overrides: %w", err)
	}

	setString(&c.Environment, env.Environment)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	setString(&c.Server.Addr, env.HTTPAddr)
	setString(&c.Storage.Backend, env.StorageBackend)
	setString(&c.Storage.PostgresDSN, env.PostgresDSN)
	setString(&c.Storage.ClickhouseDSN, env.ClickhouseDSN)
	setString(&c.Redis.Addr, env.RedisAddr)
	setString(&c.Redis.Password, env.RedisPassword)
	setString(&c.Execution.Broker.BaseURL, env.BrokerURL)
	setString(&c.Monitor.PriceFeed.URL, env.PriceFeedURL)
	setString(&c.Secrets.VaultToken, env.VaultToken)
	if len(env.KafkaBrokers) > 0 {
		c.Alerts.Kafka.Brokers = env.KafkaBrokers
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
