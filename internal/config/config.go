package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Port             string        `env:"PORT" envDefault:"8080"`
	DatabaseURL      string        `env:"DATABASE_URL"`
	RedisURL         string        `env:"REDIS_URL"`
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string        `env:"KAFKA_TOPIC" envDefault:"trading-notifications"`
	CORSOrigin       string        `env:"CORS_ORIGIN" envDefault:"*"`
	QuoteTimeout     time.Duration `env:"QUOTE_TIMEOUT" envDefault:"8s"`
	QuoteTTL         time.Duration `env:"QUOTE_TTL" envDefault:"5m"`
	ExecMaxStaleness time.Duration `env:"EXEC_MAX_STALENESS" envDefault:"30s"`
	SampleInterval   time.Duration `env:"SAMPLE_INTERVAL" envDefault:"1h"`
	StartingCash     string        `env:"STARTING_CASH" envDefault:"100000"`
	ShortLimit       string        `env:"SHORT_LIMIT" envDefault:"1000"`
	StoreCacheTTL    time.Duration `env:"STORE_CACHE_TTL" envDefault:"30s"`
	ReadCacheTTL     time.Duration `env:"READ_CACHE_TTL" envDefault:"15s"`
}

func Load() (Config, error) {
	var cfg Config
	return cfg, env.Parse(&cfg)
}
