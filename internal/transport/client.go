package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/cfgutil"
)

// Event wraps one decoded MasterMessage, or a terminal connection error
// delivered to the consumer instead of a message.
type Event struct {
	Msg types.MasterMessage
	Err error
}

// Client is the minion side of the transport: one outbound connection to
// the master, redialed with backoff whenever it drops. Domain logic (the
// registration handshake, Ehlo, dispatch) lives above this in the minion
// package; Client only owns the wire.
type Client struct {
	addr     string
	lg       *zap.Logger
	interval cfgutil.ReconnectInterval

	connected atomic.Bool

	mu sync.Mutex
	fw *FrameWriter

	ech  chan *Event
	done chan struct{}
}

// defaultReconnectInterval is used when the caller hasn't parsed an
// explicit reconnect-interval config string ("N" or "N-M" grammar).
var defaultReconnectInterval = cfgutil.ReconnectInterval{Min: 500 * time.Millisecond, Max: 60 * time.Second}

// NewClient returns a Client that dials addr once Run is called, backing
// off reconnects with the default interval bounds.
func NewClient(addr string, lg *zap.Logger) *Client {
	return NewClientWithInterval(addr, lg, defaultReconnectInterval)
}

// NewClientWithInterval is NewClient, seeding the exponential backoff's
// initial/max interval from a parsed reconnect-interval string ("N" or
// "N-M").
func NewClientWithInterval(addr string, lg *zap.Logger, interval cfgutil.ReconnectInterval) *Client {
	return &Client{
		addr:     addr,
		lg:       lg,
		interval: interval,
		ech:      make(chan *Event, 16),
		done:     make(chan struct{}),
	}
}

// Run dials and reads until ctx is cancelled, reconnecting with backoff
// whenever the connection drops. It returns once ctx is done.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	if c.interval.Min > 0 {
		bo.InitialInterval = c.interval.Min
	}
	if c.interval.Max > 0 {
		bo.MaxInterval = c.interval.Max
	}
	bo.MaxElapsedTime = 0 // minions never give up reconnecting

	for ctx.Err() == nil {
		if err := c.connectAndServe(ctx); err != nil && ctx.Err() == nil {
			c.lg.Warn("transport connection ended, will retry", zap.Error(err))
			c.ech <- &Event{Err: err}
		}
		c.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	defer nc.Close()

	c.mu.Lock()
	c.fw = NewFrameWriter(nc)
	c.mu.Unlock()
	c.connected.Store(true)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = nc.Close()
		case <-stop:
		}
	}()

	for {
		var msg types.MasterMessage
		if err := ReadFrame(nc, &msg); err != nil {
			return err
		}
		select {
		case c.ech <- &Event{Msg: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes msg to the current connection. It returns an error if not
// currently connected.
func (c *Client) Send(msg types.MinionMessage) error {
	c.mu.Lock()
	fw := c.fw
	c.mu.Unlock()
	if fw == nil {
		return apierrors.NewProtocolf("not connected")
	}
	return fw.Write(msg)
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool { return c.connected.Load() }

// Recv blocks until the next Event or ctx cancellation.
func (c *Client) Recv(ctx context.Context) (*Event, error) {
	select {
	case <-c.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	case e := <-c.ech:
		return e, nil
	}
}
