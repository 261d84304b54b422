package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configs that check themselves after parsing.
type Validator interface {
	Validate() error
}

// Option adjusts how the environment is read.
type Option func(*env.Options)

// WithEnvironment reads from vars instead of the process environment.
// A nil map leaves the process environment in place.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) {
		if vars != nil {
			o.Environment = vars
		}
	}
}

// Load fills a new T from `env` struct tags and runs its Validate method, if
// it has one.
//
//	type Config struct {
//	    Port int `env:"HTTP_PORT" envDefault:"3000"`
//	}
//	cfg, err := config.Load[Config]()
func Load[T any](opts ...Option) (*T, error) {
	var o env.Options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := new(T)
	if err := env.ParseWithOptions(cfg, o); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v, ok := any(cfg).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}
