// Package transport carries IRC lines over a WebSocket connection. It dials the
// chat gateway, splits inbound text frames into lines and writes each outbound
// line as its own text frame. WebSocket control frames are answered here; IRC
// keepalives are left to the caller.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"github.com/twitchchatter/chatter-go/wire"
)

const closeWriteTimeout = time.Second

// Options tunes the dialer.
type Options struct {
	Compression bool          // offer permessage-deflate to the server
	DialTimeout time.Duration // handshake timeout on top of ctx; 0 disables
	MaxFrameLen int64         // largest inbound frame accepted; 0 means unlimited
}

// Conn is a line oriented WebSocket client connection. ReadLine must be called
// from a single goroutine; WriteLine and Close are safe for concurrent use.
type Conn struct {
	conn     net.Conn
	rd       *wsutil.Reader
	control  wsutil.FrameHandlerFunc
	deflated bool
	msg      wsflate.MessageState
	inflate  *wsflate.Reader
	pending  []string

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a WebSocket connection to endpoint (ws:// or wss://).
func Dial(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	d := ws.Dialer{Timeout: opts.DialTimeout}
	if opts.Compression {
		d.Extensions = []httphead.Option{deflateParameters.Option()}
	}

	conn, br, hs, err := d.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Conn{conn: conn}

	// Frames the server sent right after the handshake may already sit in br.
	var src io.Reader = conn
	if br != nil {
		src = io.MultiReader(br, conn)
	}

	c.control = wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateClientSide)
	c.rd = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		MaxFrameSize:   opts.MaxFrameLen,
		OnIntermediate: c.control,
	}

	if opts.Compression && deflateAccepted(hs.Extensions) {
		c.deflated = true
		c.rd.State |= ws.StateExtended
		c.rd.Extensions = []wsutil.RecvExtension{&c.msg}
		c.inflate = wsflate.NewReader(nil, newDecompressor)
	}

	return c, nil
}

// Compressed reports whether permessage-deflate was negotiated.
func (c *Conn) Compressed() bool { return c.deflated }

// ReadLine returns the next inbound IRC line without its terminator. It
// returns io.EOF once the server closes the stream normally. Text messages that
// are not valid UTF-8, compressed or not, are dropped.
func (c *Conn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		data, err := c.readMessage()
		if err != nil {
			return "", normalizeReadErr(err)
		}
		if !utf8.Valid(data) {
			continue
		}
		c.pending = wire.SplitLines(data)
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// WriteLine sends line as a single text frame.
func (c *Conn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteClientText(c.conn, []byte(line))
}

// Close sends a normal closure frame (best effort) and closes the socket. Any
// blocked ReadLine returns.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) readMessage() ([]byte, error) {
	for {
		hdr, err := c.rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.control(hdr, c.rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := c.rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		if c.deflated && c.msg.IsCompressed() {
			c.inflate.Reset(c.rd)
			data, err := io.ReadAll(c.inflate)
			if err != nil {
				return nil, fmt.Errorf("inflate: %w", err)
			}
			return data, nil
		}
		return io.ReadAll(c.rd)
	}
}

func normalizeReadErr(err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		switch closed.Code {
		case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusNoStatusRcvd:
			return io.EOF
		}
	}
	return err
}

func deflateAccepted(exts []httphead.Option) bool {
	for _, opt := range exts {
		if bytes.Equal(opt.Name, wsflate.ExtensionNameBytes) {
			return true
		}
	}
	return false
}

// lockedWriter serializes control frame replies with WriteLine.
type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}
