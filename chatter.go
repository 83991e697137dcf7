// Package chatter is a read-only Twitch chat client. It connects to the chat
// gateway over WebSocket as an anonymous viewer, joins channels, answers the
// server keepalive and fans parsed chat messages out to callbacks.
//
//	c := chatter.New(chatter.Config{})
//	c.OnReady(func() { fmt.Println("ready") })
//	c.Join("twitchgaming", func(m *chatter.Message) {
//		fmt.Printf("#%s %s: %s\n", m.Channel, m.Sender, m.Content)
//	})
//	err := c.Start(ctx)
package chatter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twitchchatter/chatter-go/transport"
)

const (
	// DefaultNick is an anonymous identity. Nicks starting with "justinfan" are
	// accepted by the gateway without a password and can only read chat.
	DefaultNick = "justinfan0735"
	// DefaultEndpoint is the Twitch chat WebSocket gateway.
	DefaultEndpoint = "wss://irc-ws.chat.twitch.tv:443"
)

var (
	ErrAlreadyStarted = errors.New("chatter: client already started")
	ErrClosed         = errors.New("chatter: client closed")
	ErrNoConnection   = errors.New("chatter: channel has no owning client")
	ErrEmptyChannel   = errors.New("chatter: empty channel name")
)

// Conn is one established transport connection carrying IRC lines.
type Conn interface {
	// ReadLine blocks for the next inbound line. io.EOF or any other error ends
	// the session.
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// DialFunc establishes a Conn to endpoint.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// Config holds connection parameters. Zero values select the defaults.
type Config struct {
	Endpoint    string       // WebSocket URL (default DefaultEndpoint)
	Nick        string       // anonymous identity (default DefaultNick)
	Compression bool         // offer permessage-deflate when using the default dialer
	Dial        DialFunc     // transport; default dials Endpoint with gobwas/ws
	Logger      *slog.Logger // default slog.Default()
	Metrics     *Metrics     // optional
}

func (cfg Config) withDefaults() Config {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Nick == "" {
		cfg.Nick = DefaultNick
	}
	if cfg.Dial == nil {
		cfg.Dial = WebSocketDialer(transport.Options{Compression: cfg.Compression})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// WebSocketDialer returns a DialFunc backed by the transport package.
func WebSocketDialer(opts transport.Options) DialFunc {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		conn, err := transport.Dial(ctx, endpoint, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// State is the lifecycle position of a Client.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
