// Package upstream talks to the real SSH agent behind the filter.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

var (
	// ErrUnavailable means the upstream agent could not be reached or the
	// connection failed while sending.
	ErrUnavailable = errors.New("upstream agent unavailable")

	// ErrProtocol means the upstream agent's response could not be framed
	// or decoded.
	ErrProtocol = errors.New("upstream agent protocol error")
)

// Forwarder performs one request/response round trip with an agent.
// Request and response are message bodies (opcode + payload) without the
// length prefix.
type Forwarder interface {
	Forward(ctx context.Context, req []byte) ([]byte, error)
}

// DefaultDialTimeout bounds how long a dial may take when the context has
// no earlier deadline.
const DefaultDialTimeout = 5 * time.Second

// Client forwards requests to an agent listening on a UNIX socket.
// By default each request uses its own connection. In persistent mode one
// connection is shared, round trips are serialized, and a broken
// connection is redialed on the next request.
type Client struct {
	path           string
	persistent     bool
	maxMessageSize uint32
	dialTimeout    time.Duration
	logger         *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// Option configures a Client.
type Option func(*Client)

// WithPersistent enables a single shared upstream connection.
func WithPersistent(persistent bool) Option {
	return func(c *Client) { c.persistent = persistent }
}

// WithMaxMessageSize sets the largest response accepted from upstream.
func WithMaxMessageSize(n uint32) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxMessageSize = n
		}
	}
}

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the agent socket at path.
func NewClient(path string, opts ...Option) *Client {
	c := &Client{
		path:           path,
		maxMessageSize: agentproto.DefaultMaxMessageSize,
		dialTimeout:    DefaultDialTimeout,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the upstream socket path.
func (c *Client) Path() string {
	return c.path
}

// Forward sends req upstream and returns the raw response body.
func (c *Client) Forward(ctx context.Context, req []byte) ([]byte, error) {
	if !c.persistent {
		conn, err := c.dial(ctx)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		return c.roundTrip(ctx, conn, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reused := c.conn != nil
	resp, err := c.forwardShared(ctx, req)
	if err != nil && reused && staleConn(err) && ctx.Err() == nil {
		// The agent may have dropped an idle connection. Try once more on a
		// fresh one.
		c.logger.Debug("retrying on fresh upstream connection", "error", err)
		resp, err = c.forwardShared(ctx, req)
	}
	return resp, err
}

// forwardShared must be called with c.mu held.
func (c *Client) forwardShared(ctx context.Context, req []byte) ([]byte, error) {
	if c.conn == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}
	resp, err := c.roundTrip(ctx, c.conn, req)
	if err != nil {
		c.conn.Close()
		c.conn = nil
	}
	return resp, err
}

func staleConn(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Close releases the persistent connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.path == "" {
		return nil, fmt.Errorf("%w: no socket configured", ErrUnavailable)
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return conn, nil
}

func (c *Client) roundTrip(ctx context.Context, conn net.Conn, req []byte) ([]byte, error) {
	// Unblock I/O when the context ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	if err := agentproto.NewFrameWriter(conn).WriteFrame(req); err != nil {
		return nil, fmt.Errorf("%w: sending request: %w", ErrUnavailable, err)
	}

	resp, err := agentproto.NewFrameReaderWithMaxSize(conn, c.maxMessageSize).ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: reading response: %w", ErrProtocol, err)
	}

	c.logger.Debug("upstream round trip",
		"request", agentproto.MessageType(req[0]).String(),
		"response", agentproto.MessageType(resp[0]).String(),
		"duration", time.Since(start),
	)
	return resp, nil
}

// ListIdentities asks the agent behind f for its identities.
func ListIdentities(ctx context.Context, f Forwarder) ([]*agentproto.Identity, error) {
	resp, err := f.Forward(ctx, agentproto.RequestIdentities())
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProtocol)
	}
	if agentproto.MessageType(resp[0]) == agentproto.MsgFailure {
		return nil, fmt.Errorf("%w: agent refused identity request", ErrProtocol)
	}
	ids, err := agentproto.ParseIdentitiesAnswer(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return ids, nil
}
