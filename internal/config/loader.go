// Package config loads runtime configuration for the lathe CLI and cache
// server.
//
// Precedence, highest first: runtime overrides, LATHE_* environment
// variables, config file (lathe.yaml in the current directory or the app
// config dir), built-in defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName is the application identity used for data and config directories.
const AppName = "lathe"

// Config is the resolved runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Registry  RegistryConfig  `mapstructure:"registry"`

	// Workers is the number of transforms executed concurrently.
	Workers int `mapstructure:"workers"`
}

// ServerConfig configures the cache server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CacheDir is the directory the cache server stores entries in.
	CacheDir string `mapstructure:"cache_dir"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `mapstructure:"level"`
}

// WorkspaceConfig configures workspace allocation.
type WorkspaceConfig struct {
	// Root is the directory workspaces are allocated under.
	Root string `mapstructure:"root"`

	// MaxAge is the garbage-collection cutoff for unused workspaces.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// RegistryConfig configures the execution registry.
type RegistryConfig struct {
	// Root is the directory execution records are stored under.
	Root string `mapstructure:"root"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load resolves the configuration and caches it for GetConfig.
//
// Optional overrides are nested maps matching the config structure; they
// take precedence over environment variables and defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(gfconfig.GetAppDataDir(AppName))
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is a real error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// MergeConfigMap lands in the config-file layer, below env vars in
	// viper's precedence. Overrides must win over env, so they go through
	// Set with flattened dotted keys.
	for _, o := range overrides {
		setOverrides(v, "", o)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil when
// Load has not run.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func applyDefaults(v *viper.Viper) {
	dataDir := gfconfig.GetAppDataDir(AppName)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cache_dir", filepath.Join(dataDir, "cache"))

	v.SetDefault("logging.level", "info")

	v.SetDefault("workspace.root", filepath.Join(dataDir, "workspaces"))
	v.SetDefault("workspace.max_age", 7*24*time.Hour)

	v.SetDefault("registry.root", filepath.Join(dataDir, "executions"))

	v.SetDefault("workers", 4)
}

// setOverrides applies a nested override map as explicit Set calls with
// dotted keys.
func setOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setOverrides(v, full, nested)
			continue
		}
		v.Set(full, value)
	}
}

// bindEnvKeys makes AutomaticEnv work for nested keys even before they are
// set anywhere else.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"server.shutdown_timeout",
		"server.cache_dir",
		"logging.level",
		"workspace.root",
		"workspace.max_age",
		"registry.root",
		"workers",
	} {
		_ = v.BindEnv(key)
	}
}
