package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "ATHENE"

// newViper builds a viper instance with the environment binding rules every
// load path shares: ATHENE_ prefix, dots replaced by underscores, so
// `database.max_conns` binds to ATHENE_DATABASE_MAX_CONNS.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads configuration from the YAML file at path, layers environment
// variables over it, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds configuration from environment variables and defaults
// only.  Because viper's AutomaticEnv does not enumerate keys, each section
// key is registered explicitly so Unmarshal can see the env overrides.
func LoadFromEnv() (*Config, error) {
	v := newViper()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: binding env key %s: %w", key, err)
		}
	}
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the file at path whenever it changes and invokes onChange
// with the freshly validated Config.  Invalid intermediate states are
// reported to onError and the previous configuration stays in effect.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on failure.  Intended for main() wiring where
// a bad configuration should abort startup immediately.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// envKeys lists the configuration keys that LoadFromEnv binds.  Only keys
// commonly overridden in container deployments are included; file-based
// deployments should use Load.
var envKeys = []string{
	"server.port",
	"server.mode",
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.db_name",
	"database.ssl_mode",
	"neo4j.uri",
	"neo4j.user",
	"neo4j.password",
	"neo4j.database",
	"redis.addr",
	"redis.password",
	"redis.db",
	"kafka.brokers",
	"kafka.group_id",
	"opensearch.enabled",
	"opensearch.addresses",
	"opensearch.user",
	"opensearch.password",
	"milvus.enabled",
	"milvus.addr",
	"milvus.embedding_dim",
	"llm.base_url",
	"llm.api_key",
	"llm.model",
	"llm.embedding_model",
	"worker.concurrency",
	"log.level",
	"log.format",
}
