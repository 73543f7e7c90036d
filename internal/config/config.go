package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	GatewayURL        string `env:"GATEWAY_URL,required=true"`
	GatewaySocketURL  string `env:"GATEWAY_SOCKET_URL"`
	GatewaySecretID   string `env:"GATEWAY_SECRET_ID,required=true"`
	GatewayProjectID  string `env:"GATEWAY_PROJECT_ID,required=true"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	SchedulerInterval int    `env:"SCHEDULER_INTERVAL_SECONDS,default=60"`
	DispatchWorkers   int    `env:"DISPATCH_CONCURRENCY,default=4"`
	CorrelationWindow int    `env:"CORRELATION_WINDOW_MINUTES,default=15"`
	ConfirmWait       int    `env:"CONFIRM_WAIT_SECONDS,default=0"`
	RetryLimit        int    `env:"RETRY_LIMIT,default=3"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
