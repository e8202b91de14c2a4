// Package config loads the store configuration from file, environment and
// defaults.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OBJECTDB_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ottohome/objectdb/internal/logger"
	"github.com/ottohome/objectdb/pkg/acl"
)

// Config captures the static configuration of the object store client.
type Config struct {
	// Connection selects and parameterizes the backend server.
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`

	// Namespace is the key prefix all object and file keys live under.
	// A single trailing dot is appended when missing.
	Namespace string `mapstructure:"namespace" yaml:"namespace"`

	// Security names the identities that bypass permission checks.
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// DefaultACL is the access template stamped onto objects written
	// without explicit rights. It can be replaced at runtime through the
	// system configuration object.
	DefaultACL DefaultACLConfig `mapstructure:"default_acl" yaml:"default_acl"`

	// Logging controls log output behavior.
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`

	// Metrics controls Prometheus metrics collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ConnectionConfig parameterizes the backend connection.
type ConnectionConfig struct {
	// Host is the server host, or the socket path when Port is 0.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server port. Port 0 selects a unix socket at Host.
	Port int `mapstructure:"port" yaml:"port"`

	// Sentinels lists "host:port" sentinel addresses. When non-empty,
	// Host and Port are ignored and the master named by SentinelMaster
	// is resolved through the sentinels.
	Sentinels      []string `mapstructure:"sentinels" yaml:"sentinels"`
	SentinelMaster string   `mapstructure:"sentinel_master" yaml:"sentinel_master"`

	DB       int    `mapstructure:"db" yaml:"db"`
	Password string `mapstructure:"password" yaml:"password"`

	// ConnectTimeout bounds the initial handshake.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// SecurityConfig names the administrative identities.
type SecurityConfig struct {
	AdminUser  string `mapstructure:"admin_user" yaml:"admin_user"`
	AdminGroup string `mapstructure:"admin_group" yaml:"admin_group"`
}

// DefaultACLConfig is the configurable part of the default access
// template.
type DefaultACLConfig struct {
	Owner      string `mapstructure:"owner" yaml:"owner"`
	OwnerGroup string `mapstructure:"owner_group" yaml:"owner_group"`
	Object     uint16 `mapstructure:"object" yaml:"object"`
	State      uint16 `mapstructure:"state" yaml:"state"`
	File       uint16 `mapstructure:"file" yaml:"file"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:           "127.0.0.1",
			Port:           6379,
			SentinelMaster: "mymaster",
			ConnectTimeout: 10 * time.Second,
		},
		Namespace: "cfg",
		Security: SecurityConfig{
			AdminUser:  "system.user.admin",
			AdminGroup: "system.group.administrator",
		},
		DefaultACL: DefaultACLConfig{
			Owner:      "system.user.admin",
			OwnerGroup: "system.group.administrator",
			Object:     acl.DefaultObjectPerm,
			State:      acl.DefaultObjectPerm,
			File:       acl.DefaultFilePerm,
		},
		Logging: logger.Config{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration from the given file path, applying
// environment overrides and defaults. An empty path skips the file and
// uses environment plus defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("OBJECTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func Validate(cfg *Config) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if strings.ContainsAny(cfg.Namespace, "*?[] ") {
		return fmt.Errorf("namespace %q contains pattern characters", cfg.Namespace)
	}
	if len(cfg.Connection.Sentinels) == 0 && cfg.Connection.Host == "" {
		return fmt.Errorf("connection host must not be empty")
	}
	if cfg.Connection.Port < 0 || cfg.Connection.Port > 65535 {
		return fmt.Errorf("connection port %d out of range", cfg.Connection.Port)
	}
	if cfg.Security.AdminUser == "" || cfg.Security.AdminGroup == "" {
		return fmt.Errorf("security admin identities must not be empty")
	}
	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Logging.Level)
	}
	return nil
}

// Save writes the configuration to path in YAML form. Permissions are
// restricted because the file may carry a server password.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ACLTemplate converts the configured default rights into the template
// form the store engine consumes.
func (c *Config) ACLTemplate() *acl.Template {
	return &acl.Template{
		Owner:      c.DefaultACL.Owner,
		OwnerGroup: c.DefaultACL.OwnerGroup,
		Object:     c.DefaultACL.Object,
		State:      c.DefaultACL.State,
		File:       c.DefaultACL.File,
	}
}

// durationDecodeHook converts "10s" style strings into time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}
