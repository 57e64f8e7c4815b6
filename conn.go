package spanwire

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/hashicorp/go-metrics"

	"github.com/spanwire/spanwire/pkg/wire"
)

// Conn is one established connection. It moves one payload per
// Send/Receive, in order, through the wire codec.
//
// One goroutine may send and one may receive at the same time, but neither
// Send nor Receive may be called concurrently with itself. Close is safe
// from any goroutine at any time and unblocks a pending Receive.
type Conn struct {
	nc     net.Conn
	br     *bufio.Reader
	opts   connOpts
	closed atomic.Bool
}

// connOpts is the resolved per-connection configuration, shared by every
// Conn a Listener or Dialer produces.
type connOpts struct {
	scope    *wire.Scope
	maxFrame uint32
	logger   *slog.Logger
	msink    metrics.MetricSink
	labels   []metrics.Label
}

func newConn(nc net.Conn, opts connOpts) *Conn {
	return &Conn{
		nc:   nc,
		br:   bufio.NewReader(nc),
		opts: opts,
	}
}

// Send encodes payload and writes it as one frame. Error values inside the
// payload never fail the send; see the wire package for the degradation
// rules. Send fails once the connection is closed on either side.
func (c *Conn) Send(payload any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data, err := wire.Encode(payload)
	if err != nil {
		return err
	}

	if err := writeFrame(c.nc, frameMessage, data, c.opts.maxFrame); err != nil {
		c.opts.msink.IncrCounterWithLabels(MetricSpanwireMsgOutErrorCount, 1.0, c.opts.labels)
		if c.closed.Load() {
			return ErrConnClosed
		}
		return err
	}
	c.opts.msink.IncrCounterWithLabels(MetricSpanwireMsgOutBytes, float32(len(data)), c.opts.labels)
	return nil
}

// Receive blocks for the next payload. A clean close by the peer returns
// io.EOF; malformed bytes return *wire.FramingError.
func (c *Conn) Receive() (any, error) {
	kind, data, err := readFrame(c.br, c.opts.maxFrame)
	if err != nil {
		if c.closed.Load() {
			return nil, ErrConnClosed
		}
		return nil, err
	}
	if kind != frameMessage {
		c.opts.msink.IncrCounterWithLabels(
			MetricSpanwireMsgInErrorCount,
			1.0,
			append(c.opts.labels, LabelError.M("unexpected_frame")),
		)
		return nil, &wire.FramingError{Reason: fmt.Sprintf("unexpected frame kind %d mid-connection", kind)}
	}

	payload, err := wire.Decode(data, c.opts.scope)
	if err != nil {
		c.opts.msink.IncrCounterWithLabels(
			MetricSpanwireMsgInErrorCount,
			1.0,
			append(c.opts.labels, LabelError.M("decode")),
		)
		return nil, err
	}
	c.opts.msink.IncrCounterWithLabels(MetricSpanwireMsgInBytes, float32(len(data)), c.opts.labels)
	return payload, nil
}

// Close releases the socket. It is idempotent and safe concurrently with a
// blocked Send or Receive, which then fail.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.opts.logger.Debug("connection closed", LabelPeerAddr.L(c.nc.RemoteAddr().String()))
	return c.nc.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.nc.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// ReceiveAs receives the next payload and asserts its type.
func ReceiveAs[T any](c *Conn) (T, error) {
	var zero T
	payload, err := c.Receive()
	if err != nil {
		return zero, err
	}
	typed, ok := payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", ErrPayloadType, payload)
	}
	return typed, nil
}
