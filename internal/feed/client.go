package feed

import (
	"context"
	"net/http"
	"time"

	"footprint/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client handles the websocket connection to the upstream collector.
// Client keeps a websocket connection to the upstream collector open and hands
// every text frame to the handler.
type Client struct {
	url       string
	backoff   time.Duration
	dialer    *websocket.Dialer
	handler   func([]byte)
	logger    *zap.Logger
	connected chan struct{}
}

// Options tunes reconnect behaviour. Zero values take defaults.
type Options struct {
	ReconnectBackoff time.Duration
	HandshakeTimeout time.Duration
}

// NewClient creates a feed client for url. Run starts it.
func NewClient(url string, opts Options, logger *zap.Logger) *Client {
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 5 * time.Second
	}
	dialer := *websocket.DefaultDialer
	if opts.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = opts.HandshakeTimeout
	}
	return &Client{
		url:       url,
		backoff:   opts.ReconnectBackoff,
		dialer:    &dialer,
		logger:    logger.Named("feed"),
		connected: make(chan struct{}, 1),
	}
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *Client) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connected receives a value after every successful dial.
func (c *Client) Connected() <-chan struct{} {
	return c.connected
}

// Run dials and reads until ctx is cancelled, reconnecting after a fixed backoff
// whenever the dial or a read fails.
func (c *Client) Run(ctx context.Context) {
	for {
		// Connect and read until the connection breaks
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("feed connection lost, retrying", zap.String("url", c.url),
				zap.Duration("backoff", c.backoff), zap.Error(err))
		}

		// Retry reconnecting indefinitely
		select {
		case <-ctx.Done():
			c.logger.Info("feed client stopped")
			return
		case <-time.After(c.backoff):
			metrics.FeedReconnects.Inc()
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	// Attempt to connect to the websocket server
	conn, _, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()
	c.logger.Info("feed connected", zap.String("url", c.url))

	// Signal a fresh connection without blocking
	select {
	case c.connected <- struct{}{}:
	default:
	}

	// unblock ReadMessage on cancel
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.handler != nil {
			// c.logger.Debug("message received", zap.Int("bytes", len(msg)))
			c.handler(msg)
		}
	}
}
