package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "CHATTER_CONFIG"
	defaultConfigName = "chatter.yaml"
)

// Load builds configuration from defaults, an optional config file, env vars
// and flags, and returns the config file path it read ("" when none).
// Precedence: defaults < config file < CHATTER_* env vars < flags set on the
// command line. Flags are bound by name with '-' mapped to '_'.
func Load(explicitPath string, flags *pflag.FlagSet) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("nick", cfg.Nick)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("compression", cfg.Compression)
	v.SetDefault("dial_timeout", cfg.DialTimeout)
	v.SetDefault("reconnect", cfg.Reconnect)
	v.SetDefault("mentions", cfg.Mentions)
	v.SetDefault("links", cfg.Links)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetEnvPrefix("CHATTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !isKnownKey(key) {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return cfg, "", bindErr
		}
	}

	configPath, err := resolveConfigPath(explicitPath)
	if err != nil {
		return cfg, "", err
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, configPath, nil
}

func isKnownKey(key string) bool {
	switch key {
	case "endpoint", "nick", "channels", "compression", "dial_timeout", "reconnect",
		"mentions", "links", "metrics_addr", "log_level", "log_format":
		return true
	}
	return false
}

// resolveConfigPath picks the file to read: the explicit path (which must
// exist), then $CHATTER_CONFIG, then chatter.yaml in the working directory if
// present.
func resolveConfigPath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicitPath, nil
	}

	if p := os.Getenv(envConfigPath); p != "" {
		return p, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", nil
	}
	p := filepath.Join(cwd, defaultConfigName)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return p, nil
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
