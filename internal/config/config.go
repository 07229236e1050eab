// Package config handles connection and runtime configuration for
// remote-vms. Two formats are accepted: the YAML config file, and the
// legacy connection_config.txt key=value format.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LegacyConfigFile is the filename of the older key=value configuration.
const LegacyConfigFile = "connection_config.txt"

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/remote-vms/config.yaml or ~/.config/remote-vms/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "remote-vms", "config.yaml")
}

// Config is the top-level configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ConnectionConfig holds the connection parameters. The core treats these
// as an opaque record; resolution of the credential (env indirection,
// keyring) happens here, not in the transport layer.
type ConnectionConfig struct {
	Hostname    string `yaml:"hostname"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"` // env var containing the password
	UseKeyring  bool   `yaml:"use_keyring"`  // look the password up in the OS keyring

	KeyPath          string `yaml:"key_path"`
	KeyPassphraseEnv string `yaml:"key_passphrase_env"`

	// AcceptUnknownHostKey trusts any host key presented by the server.
	// When false, host keys are verified against known_hosts.
	AcceptUnknownHostKey bool   `yaml:"accept_unknown_host_key"`
	KnownHostsPath       string `yaml:"known_hosts_path"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // redact credentials from logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Port:              22,
			ConnectTimeout:    10 * time.Second,
			KeepaliveInterval: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load reads configuration from path. A .txt path is parsed as the legacy
// key=value format; anything else as YAML. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	if strings.HasSuffix(path, ".txt") {
		if err := loadLegacy(path, &cfg.Connection); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// loadLegacy parses the older connection_config.txt format: one
// key=value per line, # comments, port coerced to an integer.
func loadLegacy(path string, cc *ConnectionConfig) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read legacy config: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}

		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "hostname":
			cc.Hostname = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("legacy config: invalid port %q", value)
			}
			cc.Port = port
		case "username":
			cc.Username = value
		case "password":
			cc.Password = value
		}
	}
	return scanner.Err()
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Connection.Port)
	}
	if c.Connection.KeepaliveInterval <= 0 {
		c.Connection.KeepaliveInterval = 60 * time.Second
	}
	if c.Connection.ConnectTimeout <= 0 {
		c.Connection.ConnectTimeout = 10 * time.Second
	}
	return nil
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
