package chatter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

// fakeConn is an in-memory Conn. Lines sent on lines are read in order;
// closing lines ends the stream with io.EOF.
type fakeConn struct {
	lines chan string
	wrote chan string

	mu       sync.Mutex
	writes   []string
	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		lines:  make(chan string, 16),
		wrote:  make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadLine() (string, error) {
	select {
	case line, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-f.closed:
		return "", net.ErrClosed
	}
}

func (f *fakeConn) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, line)
	f.wrote <- line
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// expectWrites waits for the next len(want) writes and compares them.
func (f *fakeConn) expectWrites(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-f.wrote:
			assert.Equal(t, w, got)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for %q; written so far %q", w, f.written())
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, fc *fakeConn) *Client {
	t.Helper()
	return New(Config{
		Logger: quietLogger(),
		Dial: func(ctx context.Context, endpoint string) (Conn, error) {
			return fc, nil
		},
	})
}

// run starts c in the background and stops it when the test ends.
func run(t *testing.T, ctx context.Context, c *Client) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	t.Cleanup(func() {
		_ = c.Close()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Error("Start did not return after Close")
		}
	})
	return done
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func readyClient(t *testing.T, fc *fakeConn) (*Client, <-chan error) {
	t.Helper()
	c := newTestClient(t, fc)
	ready := make(chan struct{})
	c.OnReady(func() { close(ready) })
	done := run(t, context.Background(), c)
	await(t, (<-chan struct{})(ready))
	fc.expectWrites(t, "NICK "+DefaultNick)
	return c, done
}

func privmsg(sender, channel, content string) string {
	return ":" + sender + "!" + sender + "@" + sender + ".tmi.twitch.tv PRIVMSG #" + channel + " :" + content
}

func names(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = ch.Name
	}
	return out
}

func TestStartAuthenticatesAndBecomesReady(t *testing.T) {
	fc := newFakeConn()
	c := New(Config{
		Nick:   "justinfan12345",
		Logger: quietLogger(),
		Dial: func(ctx context.Context, endpoint string) (Conn, error) {
			assert.Equal(t, DefaultEndpoint, endpoint)
			return fc, nil
		},
	})
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Ready())

	var readyCalls int
	ready := make(chan struct{})
	c.OnReady(func() {
		readyCalls++
		close(ready)
	})
	run(t, context.Background(), c)

	await(t, (<-chan struct{})(ready))
	fc.expectWrites(t, "NICK justinfan12345")
	assert.True(t, c.Ready())
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, readyCalls)
	assert.NotEmpty(t, c.Session())
}

func TestPendingJoinsReplayedOnReady(t *testing.T) {
	fc := newFakeConn()
	c := newTestClient(t, fc)

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	got := make(chan string, 4)

	require.NoError(t, c.Join("#X", func(m *Message) { got <- "x1:" + m.Content }))
	require.NoError(t, c.Join("y", nil))
	require.NoError(t, c.Join("x", func(m *Message) { got <- "x2:" + m.Content }))
	assert.Equal(t, []string{"x", "y"}, names(c.Pending()))
	assert.Empty(t, c.Channels())
	assert.False(t, c.Joined("x"))

	c.OnJoined(func(ch Channel) { record("joined " + ch.Name) })
	ready := make(chan struct{})
	c.OnReady(func() {
		record("ready")
		close(ready)
	})
	run(t, context.Background(), c)
	await(t, (<-chan struct{})(ready))

	assert.Equal(t, []string{"NICK " + DefaultNick, "JOIN #x", "JOIN #y"}, fc.written())
	mu.Lock()
	assert.Equal(t, []string{"joined x", "joined y", "ready"}, order)
	mu.Unlock()
	assert.Empty(t, c.Pending())
	assert.Equal(t, []string{"x", "y"}, names(c.Channels()))
	assert.True(t, c.Joined("x"))

	fc.lines <- privmsg("bob", "x", "hello")
	assert.Equal(t, "x1:hello", await(t, (<-chan string)(got)))
	assert.Equal(t, "x2:hello", await(t, (<-chan string)(got)))
}

func TestJoinWhenReady(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	joined := make(chan Channel, 1)
	c.OnJoined(func(ch Channel) { joined <- ch })

	require.NoError(t, c.Join("PirateSoftware", nil))
	fc.expectWrites(t, "JOIN #piratesoftware")
	ch := await(t, (<-chan Channel)(joined))
	assert.Equal(t, "piratesoftware", ch.Name)
	assert.True(t, c.Joined("piratesoftware"))

	// A repeat join is written again.
	require.NoError(t, c.Join("piratesoftware", nil))
	fc.expectWrites(t, "JOIN #piratesoftware")
	assert.Len(t, c.Channels(), 1)
}

func TestJoinRejectsEmptyName(t *testing.T) {
	c := newTestClient(t, newFakeConn())
	assert.ErrorIs(t, c.Join(" # ", nil), ErrEmptyChannel)
	assert.ErrorIs(t, c.Leave(""), ErrEmptyChannel)
}

func TestLeaveStopsDelivery(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	perChannel := make(chan string, 4)
	global := make(chan string, 4)
	left := make(chan Channel, 1)
	c.OnMessage(func(m *Message) { global <- m.Content })
	c.OnLeft(func(ch Channel) { left <- ch })

	require.NoError(t, c.Join("x", func(m *Message) { perChannel <- m.Content }))
	fc.expectWrites(t, "JOIN #x")

	fc.lines <- privmsg("bob", "x", "before")
	assert.Equal(t, "before", await(t, (<-chan string)(global)))
	assert.Equal(t, "before", await(t, (<-chan string)(perChannel)))

	require.NoError(t, c.Leave("x"))
	fc.expectWrites(t, "PART #x")
	assert.Equal(t, "x", await(t, (<-chan Channel)(left)).Name)
	assert.False(t, c.Joined("x"))

	fc.lines <- privmsg("bob", "x", "after")
	assert.Equal(t, "after", await(t, (<-chan string)(global)))
	assert.Empty(t, perChannel)
}

func TestLeaveBeforeReadyDoesNothing(t *testing.T) {
	fc := newFakeConn()
	c := newTestClient(t, fc)
	left := false
	c.OnLeft(func(Channel) { left = true })

	require.NoError(t, c.Join("x", nil))
	require.NoError(t, c.Leave("x"))
	assert.False(t, left)
	assert.Empty(t, fc.written())
	assert.Equal(t, []string{"x"}, names(c.Pending()))
}

func TestPingAnsweredWithoutDispatch(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	seen := make(chan string, 4)
	c.OnMessage(func(m *Message) { seen <- m.Content })

	fc.lines <- "PING :tmi.twitch.tv"
	fc.expectWrites(t, "PONG :tmi.twitch.tv")

	fc.lines <- privmsg("bob", "x", "barrier")
	assert.Equal(t, "barrier", await(t, (<-chan string)(seen)))
	assert.Empty(t, seen)
	assert.Equal(t, []string{"NICK " + DefaultNick, "PONG :tmi.twitch.tv"}, fc.written())
}

func TestOtherLinesIgnored(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	seen := make(chan string, 4)
	c.OnMessage(func(m *Message) { seen <- m.Content })

	fc.lines <- ":tmi.twitch.tv 001 justinfan0735 :Welcome, GLHF!"
	fc.lines <- ":bob!bob@bob.tmi.twitch.tv JOIN #x"
	fc.lines <- "PRIVMSG without an envelope"
	fc.lines <- privmsg("bob", "x", "barrier")
	assert.Equal(t, "barrier", await(t, (<-chan string)(seen)))
	assert.Empty(t, seen)
}

func TestDispatchOrder(t *testing.T) {
	fc := newFakeConn()
	c := newTestClient(t, fc)

	calls := make(chan string, 8)
	c.OnMessage(func(*Message) { calls <- "global1" })
	require.NoError(t, c.Join("x", func(*Message) { calls <- "x1" }))
	require.NoError(t, c.Join("x", func(*Message) { calls <- "x2" }))
	c.OnMessage(func(*Message) { calls <- "global2" })
	require.NoError(t, c.Join("y", func(*Message) { calls <- "y" }))

	ready := make(chan struct{})
	c.OnReady(func() { close(ready) })
	run(t, context.Background(), c)
	await(t, (<-chan struct{})(ready))

	fc.lines <- privmsg("bob", "x", "hi")
	for _, want := range []string{"global1", "global2", "x1", "x2"} {
		assert.Equal(t, want, await(t, (<-chan string)(calls)))
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	seen := make(chan *Message, 1)
	c.OnMessage(func(m *Message) { seen <- m })

	fc.lines <- privmsg("bob", "elsewhere", "out of band")
	m := await(t, (<-chan *Message)(seen))
	assert.Equal(t, "elsewhere", m.Channel.Name)
	assert.Equal(t, StateReady, c.State())
}

func TestHandlerMayLeaveDuringDispatch(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	calls := make(chan string, 8)
	c.OnMessage(func(m *Message) { calls <- "global:" + m.Content })
	require.NoError(t, c.Join("x", func(m *Message) {
		calls <- "first:" + m.Content
		assert.NoError(t, m.Channel.Leave())
	}))
	require.NoError(t, c.Join("x", func(m *Message) { calls <- "second:" + m.Content }))
	fc.expectWrites(t, "JOIN #x", "JOIN #x")

	fc.lines <- privmsg("bob", "x", "one")
	for _, want := range []string{"global:one", "first:one", "second:one"} {
		assert.Equal(t, want, await(t, (<-chan string)(calls)))
	}
	fc.expectWrites(t, "PART #x")

	fc.lines <- privmsg("bob", "x", "two")
	assert.Equal(t, "global:two", await(t, (<-chan string)(calls)))
	assert.Empty(t, calls)
}

func TestHandlerPanicGoesToErrorSink(t *testing.T) {
	fc := newFakeConn()
	m := NewMetrics(nil)
	c := New(Config{
		Logger:  quietLogger(),
		Metrics: m,
		Dial: func(ctx context.Context, endpoint string) (Conn, error) {
			return fc, nil
		},
	})

	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })
	after := make(chan string, 1)
	require.NoError(t, c.Join("x", func(*Message) { panic("boom") }))
	require.NoError(t, c.Join("x", func(m *Message) { after <- m.Content }))

	ready := make(chan struct{})
	c.OnReady(func() { close(ready) })
	run(t, context.Background(), c)
	await(t, (<-chan struct{})(ready))

	fc.lines <- privmsg("bob", "x", "hi")
	err := await(t, (<-chan error)(errs))
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "x", herr.Channel.Name)
	assert.Equal(t, "boom", herr.Value)
	assert.Contains(t, herr.Error(), "#x")

	// The read loop and the remaining handlers keep going.
	assert.Equal(t, "hi", await(t, (<-chan string)(after)))
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerErrors))
}

func TestHandlerErrorUnwrapsErrorValues(t *testing.T) {
	cause := errors.New("cause")
	herr := &HandlerError{Value: cause}
	assert.ErrorIs(t, herr, cause)
	assert.Equal(t, "chatter: callback panic: cause", herr.Error())
	assert.Nil(t, (&HandlerError{Value: 42}).Unwrap())
}

func TestStartTwice(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartAfterClose(t *testing.T) {
	c := newTestClient(t, newFakeConn())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Join("x", nil), ErrClosed)
	assert.Equal(t, StateClosed, c.State())
}

func TestDialFailure(t *testing.T) {
	boom := errors.New("boom")
	c := New(Config{
		Logger: quietLogger(),
		Dial: func(ctx context.Context, endpoint string) (Conn, error) {
			return nil, boom
		},
	})
	err := c.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connect:")
	assert.Equal(t, StateClosed, c.State())
}

func TestAuthWriteFailure(t *testing.T) {
	fc := newFakeConn()
	boom := errors.New("broken pipe")
	fc.failWrites(boom)
	c := newTestClient(t, fc)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "auth:")
	assert.Equal(t, StateClosed, c.State())
}

func TestJoinReturnsWriteError(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	boom := errors.New("broken pipe")
	fc.failWrites(boom)
	joined := false
	c.OnJoined(func(Channel) { joined = true })

	assert.ErrorIs(t, c.Join("x", nil), boom)
	assert.False(t, joined)
}

func TestServerEndsStream(t *testing.T) {
	fc := newFakeConn()
	_, done := readyClient(t, fc)

	close(fc.lines)
	err := await(t, done)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseEndsStart(t *testing.T) {
	fc := newFakeConn()
	c, done := readyClient(t, fc)

	require.NoError(t, c.Close())
	assert.NoError(t, await(t, done))
	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.Ready())
}

func TestContextCancelEndsStart(t *testing.T) {
	fc := newFakeConn()
	c := newTestClient(t, fc)
	ready := make(chan struct{})
	c.OnReady(func() { close(ready) })

	ctx, cancel := context.WithCancel(context.Background())
	done := run(t, ctx, c)
	await(t, (<-chan struct{})(ready))

	cancel()
	assert.ErrorIs(t, await(t, done), context.Canceled)
	assert.Equal(t, StateClosed, c.State())
}

func TestCloseDuringDial(t *testing.T) {
	dialing := make(chan struct{})
	c := New(Config{
		Logger: quietLogger(),
		Dial: func(ctx context.Context, endpoint string) (Conn, error) {
			close(dialing)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	done := run(t, context.Background(), c)
	await(t, (<-chan struct{})(dialing))

	require.NoError(t, c.Close())
	assert.NoError(t, await(t, done))
}

func TestMetricsCountTraffic(t *testing.T) {
	fc := newFakeConn()
	m := NewMetrics(nil)
	c := New(Config{
		Logger:  quietLogger(),
		Metrics: m,
		Dial: func(ctx context.Context, endpoint string) (Conn, error) {
			return fc, nil
		},
	})
	seen := make(chan struct{}, 4)
	require.NoError(t, c.Join("x", func(*Message) { seen <- struct{}{} }))
	ready := make(chan struct{})
	c.OnReady(func() { close(ready) })
	run(t, context.Background(), c)
	await(t, (<-chan struct{})(ready))

	fc.lines <- "PING :tmi.twitch.tv"
	fc.lines <- ":tmi.twitch.tv 001 justinfan0735 :Welcome"
	fc.lines <- privmsg("bob", "x", "one")
	fc.lines <- privmsg("bob", "x", "two")
	await(t, (<-chan struct{})(seen))
	await(t, (<-chan struct{})(seen))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lines.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lines.WithLabelValues("other")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lines.WithLabelValues("privmsg")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("NICK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("JOIN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("PONG")))
}

func TestMessageChannelJoinsThroughClient(t *testing.T) {
	fc := newFakeConn()
	c, _ := readyClient(t, fc)

	seen := make(chan *Message, 1)
	c.OnMessage(func(m *Message) { seen <- m })
	fc.lines <- privmsg("bob", "x", "go watch @streamer_one")
	m := await(t, (<-chan *Message)(seen))

	mentions := m.Mentions()
	require.Len(t, mentions, 1)
	require.NoError(t, mentions[0].Join(nil))
	fc.expectWrites(t, "JOIN #streamer_one")

	assert.ErrorIs(t, NewChannel("x").Join(nil), ErrNoConnection)
	assert.ErrorIs(t, NewChannel("x").Leave(), ErrNoConnection)
}
