package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	mu     sync.RWMutex
	loaded = make(map[string]any)

	dotenvOnce sync.Once
)

// Load parses environment variables into the provided configuration struct.
// The first call loads the default .env file if one exists; a missing file is
// not an error. Each configuration type is parsed once per process and cached,
// so repeated calls for the same type are cheap and always return the same
// values.
//
// Example:
//
//	type BillingConfig struct {
//		SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
//		WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
//	}
//
//	var cfg BillingConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// The .env file is a development convenience; its absence is fine.
		_ = godotenv.Load()
	})

	key := typeName[T]()

	mu.RLock()
	cached, ok := loaded[key]
	mu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	mu.Lock()
	// Another goroutine may have parsed the same type concurrently; both
	// results come from the same environment, so either copy is valid.
	if cached, ok := loaded[key]; ok {
		*v = cached.(T)
	} else {
		loaded[key] = *v
	}
	mu.Unlock()

	return nil
}

// MustLoad works like Load but panics on failure. Use it for configuration
// the application cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

func typeName[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
