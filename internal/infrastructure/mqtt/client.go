package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// Client is one broker session. It never reconnects: once the session is
// lost the owner dials a new Client with whatever credentials are current.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	paho    pahomqtt.Client
	cfg     config.MQTTConfig
	session sessionOptions

	connected atomic.Bool

	mu           sync.Mutex
	subscribed   map[string]byte
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures. *logging.Logger and *slog.Logger
// satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one inbound message. paho runs handlers on its own
// goroutine, so a handler must hand work off rather than block.
type MessageHandler func(topic string, payload []byte) error

// Connect makes one handshake attempt and, on success, publishes the
// retained "online" birth message to the availability topic. The attempt
// ends at ctx cancellation or the connect timeout, whichever is first.
//
// Every failure wraps ErrConnectionFailed.
func Connect(ctx context.Context, cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	var session sessionOptions
	for _, opt := range opts {
		opt(&session)
	}

	pahoOpts, err := buildClientOptions(cfg, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	configureLWT(pahoOpts, session)

	c := &Client{
		cfg:        cfg,
		session:    session,
		subscribed: make(map[string]byte),
	}
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.sessionLost(err)
	})

	c.paho = pahomqtt.NewClient(pahoOpts)
	token := c.paho.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-time.After(defaultConnectTimeout):
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no CONNACK after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connected.Store(true)
	c.announce(payloadOnline)
	return c, nil
}

// sessionLost runs on paho's goroutine when the connection drops.
// Subscriptions die with the session.
func (c *Client) sessionLost(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	clear(c.subscribed)
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// announce publishes a retained availability payload. Best effort.
func (c *Client) announce(payload string) {
	topic := c.session.availabilityTopic
	if topic == "" {
		return
	}
	token := c.paho.Publish(topic, byte(c.cfg.QoS), true, payload) // #nosec G115 -- validated 0-2
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.warn("availability publish timed out", "topic", topic, "payload", payload)
		return
	}
	if err := token.Error(); err != nil {
		c.warn("availability publish failed", "topic", topic, "payload", payload, "error", err)
	}
}

// Close publishes the graceful "offline" payload and ends the session. The
// LWT covers the ungraceful case.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(payloadOffline)
	}
	c.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// Disconnect ends the session, waiting at most quiesce milliseconds for
// in-flight work. No offline payload is sent.
func (c *Client) Disconnect(quiesce uint) {
	if c.paho == nil {
		return
	}
	c.paho.Disconnect(quiesce)
	c.connected.Store(false)
}

// IsConnected reports whether the session is still up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// SetOnDisconnect registers the callback run when the session drops
// unexpectedly. It is not called for Close or Disconnect.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) warn(msg string, args ...any) {
	c.mu.Lock()
	logger := c.logger
	c.mu.Unlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// deliver adapts handler to paho. A handler error or panic is logged and
// never takes the session down.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.mu.Lock()
				logger := c.logger
				c.mu.Unlock()
				if logger != nil {
					logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
