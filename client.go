package chatter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/twitchchatter/chatter-go/wire"
)

// Client is a single-use connection to the chat gateway. Join and the On*
// registrations may be called at any time; Start runs the session.
type Client struct {
	cfg     Config
	log     *slog.Logger
	session string
	metrics *Metrics

	mu         sync.Mutex
	state      State
	started    bool
	closing    bool // Close was called
	conn       Conn
	cancelDial context.CancelFunc
	reg        *registry

	onReady   []func()
	onJoined  []func(Channel)
	onLeft    []func(Channel)
	onMessage []Handler
	onError   []func(error)

	// wmu serializes transport writes. It may be taken while holding mu,
	// never the other way around.
	wmu sync.Mutex
}

// New returns an idle client. Nothing is dialed until Start.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	session := uuid.NewString()
	return &Client{
		cfg:     cfg,
		session: session,
		log:     cfg.Logger.With("session", session, "endpoint", cfg.Endpoint),
		metrics: cfg.Metrics,
		reg:     newRegistry(),
	}
}

// Session returns the id attached to this client's log records.
func (c *Client) Session() string { return c.session }

// Nick returns the identity sent on connect.
func (c *Client) Nick() string { return c.cfg.Nick }

// --- Lifecycle ---

// Start connects, authenticates, resolves pending joins, fires the ready
// callbacks and then reads until the connection ends. It returns nil after
// Close, ctx.Err() when ctx ended the session, and otherwise the error that
// terminated the connection (io.EOF included).
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	case c.state == StateClosed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.state = StateConnecting
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	conn, err := c.cfg.Dial(dialCtx, c.cfg.Endpoint)
	if err != nil {
		return c.finish(ctx, fmt.Errorf("connect: %w", err))
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return c.finish(ctx, ErrClosed)
	}
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("connected to gateway", "nick", c.cfg.Nick)

	if err := c.writeTo(conn, wire.Nick(c.cfg.Nick), wire.NickCommand); err != nil {
		return c.finish(ctx, fmt.Errorf("auth: %w", err))
	}

	if err := c.becomeReady(conn); err != nil {
		return c.finish(ctx, err)
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return c.finish(ctx, fmt.Errorf("read: %w", err))
		}
		c.handleLine(line)
	}
}

// becomeReady switches to StateReady and replays the pending joins. The JOIN
// writes complete before any Join or Leave issued concurrently can write, and
// before the ready callbacks run.
func (c *Client) becomeReady(conn Conn) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateReady
	names := c.reg.resolve()
	c.wmu.Lock()
	c.mu.Unlock()

	var err error
	for _, name := range names {
		if err = c.writeLocked(conn, wire.Join(name), wire.JoinCommand); err != nil {
			break
		}
	}
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	for _, name := range names {
		c.log.Info("joined channel", "channel", name)
		c.fireJoined(c.channel(name))
	}
	c.log.Info("ready", "channels", len(names))
	c.mu.Lock()
	ready := append([]func(){}, c.onReady...)
	c.mu.Unlock()
	for _, fn := range ready {
		c.invoke(Channel{}, fn)
	}
	return nil
}

// finish moves the client to StateClosed, releases the transport and picks the
// error Start reports.
func (c *Client) finish(ctx context.Context, err error) error {
	c.mu.Lock()
	closing := c.closing
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	switch {
	case ctx.Err() != nil:
		c.log.Info("session ended", "reason", ctx.Err())
		return ctx.Err()
	case closing:
		c.log.Info("session closed")
		return nil
	}
	c.log.Warn("session terminated", "error", err)
	return err
}

// Close ends the session. It unblocks Start and is safe to call more than once
// or before Start.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.state = StateClosed
	conn := c.conn
	cancel := c.cancelDial
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// State reports the lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the client is authenticated and accepting joins.
func (c *Client) Ready() bool { return c.State() == StateReady }

// --- Channels ---

// Join subscribes to a channel. handler may be nil. Before the client is ready
// the request is queued and replayed on connect; afterwards JOIN is written
// immediately and the joined callbacks fire. Joining a channel again appends
// the handler and repeats the JOIN.
func (c *Client) Join(name string, handler Handler) error {
	ch := c.channel(name)
	if ch.Name == "" {
		return ErrEmptyChannel
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateReady:
	default:
		c.reg.enqueue(ch.Name, handler)
		c.mu.Unlock()
		c.log.Debug("join queued", "channel", ch.Name)
		return nil
	}
	c.reg.join(ch.Name, handler)
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeTo(conn, wire.Join(ch.Name), wire.JoinCommand); err != nil {
		return err
	}
	c.log.Info("joined channel", "channel", ch.Name)
	c.fireJoined(ch)
	return nil
}

// Leave drops every handler for a channel, writes PART and fires the left
// callbacks. It does nothing unless the client is ready.
func (c *Client) Leave(name string) error {
	ch := c.channel(name)
	if ch.Name == "" {
		return ErrEmptyChannel
	}

	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil
	}
	c.reg.leave(ch.Name)
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeTo(conn, wire.Part(ch.Name), wire.PartCommand); err != nil {
		return err
	}
	c.log.Info("left channel", "channel", ch.Name)

	c.mu.Lock()
	left := append([]func(Channel){}, c.onLeft...)
	c.mu.Unlock()
	for _, fn := range left {
		c.invoke(ch, func() { fn(ch) })
	}
	return nil
}

// Channels returns the channels known to the registry in first-join order.
// Queued joins appear once the client is ready. Left channels are still listed.
func (c *Client) Channels() []Channel {
	c.mu.Lock()
	names := c.reg.names()
	c.mu.Unlock()
	out := make([]Channel, len(names))
	for i, name := range names {
		out[i] = c.channel(name)
	}
	return out
}

// Joined reports whether name is currently joined.
func (c *Client) Joined(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.joined(c.channel(name).Name)
}

// Pending returns the channels queued for joining, in request order.
func (c *Client) Pending() []Channel {
	c.mu.Lock()
	names := c.reg.pendingNames()
	c.mu.Unlock()
	out := make([]Channel, len(names))
	for i, name := range names {
		out[i] = c.channel(name)
	}
	return out
}

// Channel returns name bound to this client.
func (c *Client) Channel(name string) Channel { return c.channel(name) }

func (c *Client) channel(name string) Channel {
	ch := NewChannel(name)
	ch.client = c
	return ch
}

// --- Callbacks ---

// OnReady registers fn to run once the client is ready and pending joins have
// been written.
func (c *Client) OnReady(fn func()) {
	c.mu.Lock()
	c.onReady = append(c.onReady, fn)
	c.mu.Unlock()
}

// OnJoined registers fn to run after each JOIN is written.
func (c *Client) OnJoined(fn func(Channel)) {
	c.mu.Lock()
	c.onJoined = append(c.onJoined, fn)
	c.mu.Unlock()
}

// OnLeft registers fn to run after each PART is written.
func (c *Client) OnLeft(fn func(Channel)) {
	c.mu.Lock()
	c.onLeft = append(c.onLeft, fn)
	c.mu.Unlock()
}

// OnMessage registers a global handler. Global handlers see every chat message
// before the channel's own handlers, in registration order.
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	c.onMessage = append(c.onMessage, h)
	c.mu.Unlock()
}

// OnError registers a sink for panics recovered from callbacks. Without one
// they are logged.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

func (c *Client) fireJoined(ch Channel) {
	c.mu.Lock()
	joined := append([]func(Channel){}, c.onJoined...)
	c.mu.Unlock()
	for _, fn := range joined {
		c.invoke(ch, func() { fn(ch) })
	}
}

// --- Transport ---

func (c *Client) writeTo(conn Conn, line, command string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeLocked(conn, line, command)
}

func (c *Client) writeLocked(conn Conn, line, command string) error {
	if conn == nil {
		return ErrClosed
	}
	if err := conn.WriteLine(line); err != nil {
		return fmt.Errorf("write %s: %w", command, err)
	}
	c.metrics.command(command)
	return nil
}

// handleLine answers keepalives and dispatches chat lines. Anything else,
// including chat lines that fail to parse, is dropped.
func (c *Client) handleLine(line string) {
	kind := wire.Classify(line)
	c.metrics.line(kind)

	switch kind {
	case wire.KindPing:
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if err := c.writeTo(conn, wire.Pong(), wire.PongKeyword); err != nil {
			c.log.Warn("pong failed", "error", err)
		}
	case wire.KindPrivmsg:
		msg, err := parseMessage(line, c)
		if err != nil {
			c.log.Debug("dropped malformed line", "line", line)
			return
		}
		c.dispatch(msg)
	default:
		c.log.Debug("ignored line", "line", line)
	}
}
