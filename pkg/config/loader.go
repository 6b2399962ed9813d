package config

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/compozy/codebook/pkg/logger"
)

// Loader merges defaults, files, environment and flags into a validated Config.
// Precedence, lowest first: defaults, YAML, environment, CLI.
type Loader struct {
	koanf     *koanf.Koanf
	validator *validator.Validate
	sources   map[string]SourceType
}

func NewLoader() *Loader {
	return &Loader{
		koanf:     koanf.New("."),
		validator: validator.New(),
		sources:   make(map[string]SourceType),
	}
}

// Load is a shorthand for NewLoader().Load.
func Load(ctx context.Context, sources ...Source) (*Config, error) {
	return NewLoader().Load(ctx, sources...)
}

func (l *Loader) Load(ctx context.Context, sources ...Source) (*Config, error) {
	l.koanf = koanf.New(".")
	l.sources = make(map[string]SourceType)
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	l.track(SourceDefault)
	var cliSources []Source
	for _, src := range sources {
		if src == nil {
			continue
		}
		if src.Type() == SourceCLI {
			cliSources = append(cliSources, src)
			continue
		}
		if err := l.loadSource(src); err != nil {
			return nil, err
		}
	}
	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}
	for _, src := range cliSources {
		if err := l.loadSource(src); err != nil {
			return nil, err
		}
	}
	cfg, err := l.unmarshalAndValidate()
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("Configuration loaded", "keys", len(l.koanf.Keys()))
	return cfg, nil
}

// SourceOf reports which source last set the given dotted key.
func (l *Loader) SourceOf(key string) SourceType {
	return l.sources[key]
}

func (l *Loader) loadSource(src Source) error {
	data, err := src.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", src.Type(), err)
	}
	if len(data) == 0 {
		return nil
	}
	before := l.snapshot()
	for key, value := range flattenMap("", data) {
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, src.Type(), err)
		}
	}
	l.trackChanged(before, src.Type())
	return nil
}

func (l *Loader) loadEnvironment() error {
	envToPath := make(map[string]string)
	for _, m := range GenerateEnvMappings() {
		envToPath[m.EnvVar] = m.ConfigPath
	}
	before := l.snapshot()
	if err := l.koanf.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key string, value string) (string, any) {
			path, ok := envToPath[key]
			if !ok || value == "" {
				return "", nil
			}
			return path, value
		},
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	l.trackChanged(before, SourceEnv)
	return nil
}

func (l *Loader) snapshot() map[string]any {
	out := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		out[key] = l.koanf.Get(key)
	}
	return out
}

func (l *Loader) track(src SourceType) {
	for _, key := range l.koanf.Keys() {
		l.sources[key] = src
	}
}

func (l *Loader) trackChanged(before map[string]any, src SourceType) {
	for _, key := range l.koanf.Keys() {
		prev, existed := before[key]
		if !existed || !reflect.DeepEqual(prev, l.koanf.Get(key)) {
			l.sources[key] = src
		}
	}
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tag constraints.
func (l *Loader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
