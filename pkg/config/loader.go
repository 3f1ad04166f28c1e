package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read before the environment is consulted, when it exists.
const DefaultEnvFile = ".env"

// envKeys are bound explicitly so they can be set from the environment even
// when no config file mentions them.
var envKeys = []string{
	"service.name",
	"service.env",
	"service.http.read_timeout",
	"service.http.write_timeout",
	"service.http.shutdown_timeout",
	"cache.host",
	"cache.port",
	"cache.password",
	"cache.db",
	"cacher.default_ttl",
	"cacher.listen",
	"eventbus.backend",
	"eventbus.servers",
	"log.level",
	"log.format",
	"metrics.enabled",
	"metrics.port",
	"tracing.enabled",
	"tracing.endpoint",
}

// Load loads configuration from a file, the default .env file and environment variables.
// The prefix parameter is used for environment variable names (e.g., "CACHER" -> CACHER_CACHE_HOST).
// If configPath is empty, only environment variables will be used.
func Load(configPath, envPrefix string) (*Config, error) {
	return LoadWithEnvFiles(configPath, envPrefix, DefaultEnvFile)
}

// LoadWithEnvFiles is Load with an explicit list of .env files. Missing files
// are skipped; variables already present in the environment are never overridden.
func LoadWithEnvFiles(configPath, envPrefix string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	if err := v.BindEnv("cacher.enabled", envName(envPrefix, "cacher.enabled"), LegacyEnableEnv); err != nil {
		return nil, fmt.Errorf("failed to bind cacher.enabled: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and panics on error.
// This is useful in main() where configuration errors should be fatal.
func MustLoad(configPath, envPrefix string) *Config {
	cfg, err := Load(configPath, envPrefix)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration only from the environment and the default .env file.
func LoadFromEnv(envPrefix string) (*Config, error) {
	return Load("", envPrefix)
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
func MustLoadFromEnv(envPrefix string) *Config {
	return MustLoad("", envPrefix)
}

func loadEnvFiles(files []string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

func envName(prefix, key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}
