package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	chatter "github.com/twitchchatter/chatter-go"
	"github.com/twitchchatter/chatter-go/internal/config"
)

const prompt = "What streamer would you like to join? "

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chatter [channel...]",
		Short: "Read Twitch chat from the terminal",
		Long: `Connect to Twitch chat as an anonymous viewer and print every message
posted to the given channels.

Channels come from the arguments, then the channels config key, and are
prompted for on stdin when neither names any.

Configuration precedence: defaults < chatter.yaml < CHATTER_* env vars < flags.
A .env file in the working directory is loaded into the environment first.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd, cfg, path, args)
		},
	}

	d := config.Default()
	pf := cmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./chatter.yaml or $CHATTER_CONFIG)")
	pf.String("endpoint", d.Endpoint, "chat gateway WebSocket URL")
	pf.String("nick", d.Nick, "anonymous identity")
	pf.Bool("compression", d.Compression, "offer permessage-deflate")
	pf.Duration("dial-timeout", d.DialTimeout, "connect timeout")
	pf.String("log-level", d.LogLevel, "debug, info, warn or error")
	pf.String("log-format", d.LogFormat, "text or json")

	f := cmd.Flags()
	f.Bool("reconnect", d.Reconnect, "reconnect with backoff when the connection drops")
	f.Bool("mentions", d.Mentions, "print the users mentioned in each message")
	f.Bool("links", d.Links, "print the links in each message")
	f.String("metrics-addr", d.MetricsAddr, "serve Prometheus metrics on this address")

	cmd.AddCommand(newConfigCmd(&configPath))
	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return config.Write(cmd.OutOrStdout(), cfg)
		},
	}
}

func run(cmd *cobra.Command, cfg config.Config, path string, args []string) error {
	logger := cfg.Logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	channels := args
	if len(channels) == 0 {
		channels = cfg.Channels
	}
	if len(channels) == 0 {
		name, err := ask(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		channels = []string{name}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *chatter.Metrics
	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = chatter.NewMetrics(reg)
	}

	out := &printer{w: cmd.OutOrStdout(), mentions: cfg.Mentions, links: cfg.Links}
	newClient := func() *chatter.Client {
		c := chatter.New(cfg.ClientConfig(logger, metrics))
		c.OnReady(func() { logger.Info("chat ready", "channels", len(channels)) })
		c.OnJoined(func(ch chatter.Channel) { logger.Info("joined", "channel", ch.Name) })
		c.OnLeft(func(ch chatter.Channel) { logger.Info("left", "channel", ch.Name) })
		c.OnError(func(err error) { logger.Error("handler failed", "error", err) })
		for _, name := range channels {
			if err := c.Join(name, out.handle); err != nil {
				logger.Warn("skipping channel", "channel", name, "error", err)
			}
		}
		return c
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		var err error
		if cfg.Reconnect {
			err = chatter.Supervise(gctx, newClient)
		} else {
			err = newClient().Start(gctx)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if reg != nil {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, reg, logger)
		})
	}
	return g.Wait()
}

// ask prompts for a channel name until a non-empty line is entered.
func ask(in io.Reader, out io.Writer) (string, error) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", fmt.Errorf("read channel: %w", err)
			}
			return "", errors.New("no channel given")
		}
		if name := strings.TrimSpace(sc.Text()); name != "" {
			return name, nil
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	<-errCh
	return nil
}
