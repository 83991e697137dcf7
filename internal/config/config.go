package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	chatter "github.com/twitchchatter/chatter-go"
	"github.com/twitchchatter/chatter-go/transport"
)

// Config holds CLI configuration values.
type Config struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Nick        string        `mapstructure:"nick" yaml:"nick"`
	Channels    []string      `mapstructure:"channels" yaml:"channels"`
	Compression bool          `mapstructure:"compression" yaml:"compression"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	Reconnect   bool          `mapstructure:"reconnect" yaml:"reconnect"`
	Mentions    bool          `mapstructure:"mentions" yaml:"mentions"`
	Links       bool          `mapstructure:"links" yaml:"links"`
	MetricsAddr string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string        `mapstructure:"log_format" yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Endpoint:    chatter.DefaultEndpoint,
		Nick:        chatter.DefaultNick,
		DialTimeout: 10 * time.Second,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		return fmt.Errorf("endpoint %q: want a ws:// or wss:// URL", c.Endpoint)
	}
	if c.Nick == "" {
		return fmt.Errorf("nick is empty")
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout %s is negative", c.DialTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q: want text or json", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Logger builds a slog.Logger writing to w in the configured format.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, err := c.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ClientConfig maps the CLI configuration onto a chatter.Config.
func (c Config) ClientConfig(logger *slog.Logger, metrics *chatter.Metrics) chatter.Config {
	return chatter.Config{
		Endpoint: c.Endpoint,
		Nick:     c.Nick,
		Dial: chatter.WebSocketDialer(transport.Options{
			Compression: c.Compression,
			DialTimeout: c.DialTimeout,
		}),
		Logger:  logger,
		Metrics: metrics,
	}
}
