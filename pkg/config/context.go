package config

import "context"

// ContextKey is an alias used for storing values in context
type ContextKey string

const configCtxKey ContextKey = "config"

func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configCtxKey, cfg)
}

// FromContext returns the configuration stored in ctx, or the defaults.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(configCtxKey).(*Config); ok && cfg != nil {
			return cfg
		}
	}
	return Default()
}
