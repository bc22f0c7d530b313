// Package redis provides Redis connectivity with startup retries and a
// health check for readiness probes.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // ConnectionURL in the format "redis://:password@localhost:6379/0".
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`                      // RetryAttempts is the number of connection attempts at startup.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`                     // RetryInterval is the interval between retry attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`                   // ConnectTimeout bounds the whole connection phase.
}

var (
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed       = errors.New("redis healthcheck failed")
)

// Connect establishes a Redis connection, retrying up to cfg.RetryAttempts
// times within the configured connect timeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}

	for i := 0; i < cfg.RetryAttempts; i++ {
		client := redis.NewClient(opt)

		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}

		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrNotReady
}

// Healthcheck returns a probe function bound to the given client, compatible
// with httpserver.HealthCheckHandler.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
