package spanwire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/spanwire/spanwire/pkg/wire"
)

func testLogHandler(t *testing.T, emitter string) slog.Handler {
	t.Helper()
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(emitter)},
	})
}

func startListener(t *testing.T, cfg *ListenerConfig, handler Handler) *Listener {
	t.Helper()
	if cfg == nil {
		cfg = &ListenerConfig{}
	}
	cfg.BindAddr = "127.0.0.1"
	if cfg.MetricSink == nil {
		cfg.MetricSink = metrics.NewInmemSink(time.Second, 5*time.Minute)
	}
	if cfg.LogHandler == nil {
		cfg.LogHandler = testLogHandler(t, "listener")
	}

	l := NewListener(cfg)
	require.NoError(t, l.Accept(handler))
	t.Cleanup(l.RequestStop)
	return l
}

func testDialer(t *testing.T) *Dialer {
	t.Helper()
	return NewDialer(&DialerConfig{
		MetricSink: metrics.NewInmemSink(time.Second, 5*time.Minute),
		LogHandler: testLogHandler(t, "dialer"),
	})
}

func waitForConn(t *testing.T, ctx context.Context, ch <-chan *Conn) *Conn {
	t.Helper()
	select {
	case conn := <-ch:
		return conn
	case <-ctx.Done():
		t.Fatal("timed out waiting for an inbound connection")
		return nil
	}
}

func TestConnectAndExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inbound := make(chan *Conn, 1)
	l := startListener(t, nil, func(conn *Conn) { inbound <- conn })

	client, err := testDialer(t).Connect(ctx, l.Addr())
	require.NoError(t, err)
	defer client.Close()

	// The connection is usable the moment Connect returns: no
	// acknowledgement round trip stands between the dial and the first
	// payload.
	require.NoError(t, client.Send("hello from the dialer"))

	server := waitForConn(t, ctx, inbound)
	defer server.Close()

	payload, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, "hello from the dialer", payload)

	t.Run("payloads keep their order", func(t *testing.T) {
		for i := 0; i < 16; i++ {
			require.NoError(t, client.Send(fmt.Sprintf("payload-%d", i)))
		}
		for i := 0; i < 16; i++ {
			payload, err := server.Receive()
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("payload-%d", i), payload)
		}
	})

	t.Run("either side may send", func(t *testing.T) {
		require.NoError(t, server.Send(int64(42)))
		got, err := ReceiveAs[int64](client)
		require.NoError(t, err)
		require.Equal(t, int64(42), got)
	})

	t.Run("typed receive rejects the wrong shape", func(t *testing.T) {
		require.NoError(t, server.Send("not a number"))
		_, err := ReceiveAs[int64](client)
		require.ErrorIs(t, err, ErrPayloadType)
	})
}

func TestListenerLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("nil handler is refused", func(t *testing.T) {
		l := NewListener(&ListenerConfig{LogHandler: testLogHandler(t, "listener")})
		require.ErrorIs(t, l.Accept(nil), ErrNilHandler)
	})

	t.Run("starts at most once", func(t *testing.T) {
		l := startListener(t, nil, func(conn *Conn) { conn.Close() })
		require.ErrorIs(t, l.Accept(func(conn *Conn) {}), ErrListenerStarted)
	})

	t.Run("never restarts after a stop", func(t *testing.T) {
		l := startListener(t, nil, func(conn *Conn) { conn.Close() })
		l.RequestStop()
		require.ErrorIs(t, l.Accept(func(conn *Conn) {}), ErrListenerStopped)
	})

	t.Run("a stop before the start wins", func(t *testing.T) {
		l := NewListener(&ListenerConfig{LogHandler: testLogHandler(t, "listener")})
		l.RequestStop()
		require.ErrorIs(t, l.Accept(func(conn *Conn) {}), ErrListenerStopped)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		l := startListener(t, nil, func(conn *Conn) { conn.Close() })
		l.RequestStop()
		l.RequestStop()
	})

	t.Run("stop refuses new dials but spares established connections", func(t *testing.T) {
		inbound := make(chan *Conn, 1)
		l := startListener(t, nil, func(conn *Conn) { inbound <- conn })
		d := testDialer(t)

		client, err := d.Connect(ctx, l.Addr())
		require.NoError(t, err)
		defer client.Close()
		server := waitForConn(t, ctx, inbound)
		defer server.Close()

		l.RequestStop()

		_, err = d.Connect(ctx, l.Addr())
		var ce *ConnectError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, l.Addr(), ce.Target)

		// The connection handed over before the stop keeps working.
		require.NoError(t, client.Send("still alive"))
		payload, err := server.Receive()
		require.NoError(t, err)
		require.Equal(t, "still alive", payload)
	})

	t.Run("a slow handler does not stall accepts", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		inbound := make(chan *Conn, 2)
		l := startListener(t, nil, func(conn *Conn) {
			inbound <- conn
			<-release
		})
		d := testDialer(t)

		first, err := d.Connect(ctx, l.Addr())
		require.NoError(t, err)
		defer first.Close()
		waitForConn(t, ctx, inbound).Close()

		// The first handler invocation is still parked on release.
		second, err := d.Connect(ctx, l.Addr())
		require.NoError(t, err)
		defer second.Close()
		waitForConn(t, ctx, inbound).Close()
	})
}

func TestHelloInstanceCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inbound := make(chan *Conn, 1)
	l := startListener(t, nil, func(conn *Conn) { inbound <- conn })
	d := testDialer(t)

	t.Run("another instance is rejected", func(t *testing.T) {
		wrong := l.Addr()
		wrong.Instance = NewInstanceID()

		client, err := d.Connect(ctx, wrong)
		require.NoError(t, err, "the rejection happens after the dial")
		defer client.Close()

		_, err = client.Receive()
		require.ErrorIs(t, err, io.EOF)

		select {
		case conn := <-inbound:
			conn.Close()
			t.Fatal("the handler must never see a rejected connection")
		default:
		}
	})

	t.Run("the zero instance matches anyone", func(t *testing.T) {
		wild := l.Addr()
		wild.Instance = ZeroInstance

		client, err := d.Connect(ctx, wild)
		require.NoError(t, err)
		defer client.Close()
		require.NoError(t, client.Send("wildcard dial"))

		server := waitForConn(t, ctx, inbound)
		defer server.Close()
		payload, err := server.Receive()
		require.NoError(t, err)
		require.Equal(t, "wildcard dial", payload)
	})
}

func TestInboundCounterNamesTheListener(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sink := metrics.NewInmemSink(time.Minute, 10*time.Minute)
	inbound := make(chan *Conn, 1)
	l := startListener(t, &ListenerConfig{MetricSink: sink}, func(conn *Conn) { inbound <- conn })

	client, err := testDialer(t).Connect(ctx, l.Addr())
	require.NoError(t, err)
	defer client.Close()
	waitForConn(t, ctx, inbound).Close()

	// The counter lands in the sink before the handler runs.
	want := LabelLocalAddr.M(l.Addr().hostPort())
	found := false
	for _, interval := range sink.Data() {
		for key := range interval.Counters {
			if strings.HasPrefix(key, "spanwire.conn.in.count") &&
				strings.Contains(key, want.Name+"="+want.Value) {
				found = true
			}
		}
	}
	require.True(t, found, "the inbound counter must carry the listener address")
}

func TestConnectFailureNamesTheTarget(t *testing.T) {
	// Bind and immediately release a port so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	target := Addr{Host: "127.0.0.1", Port: port}
	_, err = testDialer(t).Connect(context.Background(), target)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, target, ce.Target)
	require.Contains(t, ce.Error(), target.hostPort())
}

func TestConnClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inbound := make(chan *Conn, 1)
	l := startListener(t, nil, func(conn *Conn) { inbound <- conn })

	client, err := testDialer(t).Connect(ctx, l.Addr())
	require.NoError(t, err)
	server := waitForConn(t, ctx, inbound)
	defer server.Close()

	t.Run("close unblocks a pending receive", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() {
			_, err := client.Receive()
			errCh <- err
		}()
		require.NoError(t, client.Close())

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrConnClosed)
		case <-ctx.Done():
			t.Fatal("receive did not unblock")
		}
	})

	t.Run("send after close", func(t *testing.T) {
		require.ErrorIs(t, client.Send("too late"), ErrConnClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		require.NoError(t, client.Close())
	})

	t.Run("the peer observes EOF", func(t *testing.T) {
		_, err := server.Receive()
		require.ErrorIs(t, err, io.EOF)
	})
}

// buildRefusal is a payload error type the test processes disagree about.
type buildRefusal struct {
	Step string `codec:"s"`
	Code int    `codec:"c"`
}

func (e *buildRefusal) Error() string {
	return fmt.Sprintf("step %s refused with code %d", e.Step, e.Code)
}

func TestErrorPayloads(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("a registered type arrives intact", func(t *testing.T) {
		scope := wire.NewScope()
		scope.Register(&buildRefusal{})

		inbound := make(chan *Conn, 1)
		l := startListener(t, &ListenerConfig{Scope: scope}, func(conn *Conn) { inbound <- conn })

		client, err := testDialer(t).Connect(ctx, l.Addr())
		require.NoError(t, err)
		defer client.Close()

		cause := &buildRefusal{Step: "link", Code: 3}
		require.NoError(t, client.Send(wire.NewFault("build failed", cause)))

		server := waitForConn(t, ctx, inbound)
		defer server.Close()

		got, err := ReceiveAs[*wire.Fault](server)
		require.NoError(t, err)
		require.Equal(t, "build failed", got.Error())
		require.Len(t, got.Unwrap(), 1)

		refusal, ok := got.Unwrap()[0].(*buildRefusal)
		require.True(t, ok, "the cause should decode as its real type, got %T", got.Unwrap()[0])
		require.Equal(t, "link", refusal.Step)
		require.Equal(t, 3, refusal.Code)
	})

	t.Run("an unknown type degrades to a placeholder", func(t *testing.T) {
		inbound := make(chan *Conn, 1)
		l := startListener(t, nil, func(conn *Conn) { inbound <- conn })

		client, err := testDialer(t).Connect(ctx, l.Addr())
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Send(&buildRefusal{Step: "compile", Code: 7}))

		server := waitForConn(t, ctx, inbound)
		defer server.Close()

		got, err := ReceiveAs[*wire.PlaceholderError](server)
		require.NoError(t, err)
		require.Equal(t, "*spanwire.buildRefusal", got.TypeName())
		require.Equal(t, "step compile refused with code 7", got.Error())
	})
}
