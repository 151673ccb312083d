package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/relaybox/internal/infrastructure/config"
)

// Logger is the logging surface used by the client.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Option configures a Client at Connect time.
type Option func(*Client)

// WithLogger logs connection events to l.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnConnect runs fn after every successful (re)connect.
func WithOnConnect(fn func()) Option {
	return func(c *Client) { c.onConnect = fn }
}

// WithOnDisconnect runs fn when the connection drops.
func WithOnDisconnect(fn func(err error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// Client is a publish-only broker connection. After the first connect paho
// reconnects on its own with exponential backoff.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger

	onConnect    func()
	onDisconnect func(err error)

	up atomic.Bool
}

// Connect dials the broker and waits for the first connection, for at most
// the connect timeout or until ctx is done.
func Connect(ctx context.Context, cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg, logger: noopLogger{}}
	for _, opt := range opts {
		opt(c)
	}

	po := buildClientOptions(cfg)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	po.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger.Info("mqtt reconnecting", "broker", brokerURL(cfg))
	})
	c.client = pahomqtt.NewClient(po)

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on paho's goroutine and may not have fired yet.
	c.up.Store(true)
	return c, nil
}

func (c *Client) connected() {
	c.up.Store(true)
	c.client.Publish(Topics{}.SystemStatus(), c.QoS(), true, statusPayload(statusOnline, c.cfg.Broker.ClientID, ""))
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)
	c.logger.Warn("mqtt connection lost", "error", err)
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// Close publishes a retained offline status and disconnects. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		payload := statusPayload(statusOffline, c.cfg.Broker.ClientID, "graceful_shutdown")
		c.client.Publish(Topics{}.SystemStatus(), c.QoS(), true, payload).WaitTimeout(defaultPublishTimeout)
	}
	c.up.Store(false)
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.up.Load() && c.client.IsConnected()
}
