// Package octagon wires configuration, providers, tools, and the agent
// loop into a runnable application.
package octagon

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	LLM           LLMConfig           `mapstructure:"llm"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Stats         StatsConfig         `mapstructure:"stats"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type LLMConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type AgentConfig struct {
	SelectPrompt   string `mapstructure:"select_prompt"`
	FinalizePrompt string `mapstructure:"finalize_prompt"`
	CallTimeoutMS  int    `mapstructure:"call_timeout_ms"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms"`
}

type ToolsConfig struct {
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

type StatsConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	Retries   int    `mapstructure:"retries"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("agent.call_timeout_ms", 30000)
	v.SetDefault("agent.max_attempts", 2)
	v.SetDefault("agent.retry_backoff_ms", 250)
	v.SetDefault("tools.timeout_ms", 15000)
	v.SetDefault("tools.retries", 1)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("stats.base_url", "http://ufcstats.com")
	v.SetDefault("stats.timeout_ms", 10000)
	v.SetDefault("stats.retries", 3)
	v.SetDefault("transports.provider", "stdio")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}

	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.LLM.Settings = expandSettings(cfg.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
