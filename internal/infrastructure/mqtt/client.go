package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/webiot/relay/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as the relay's broker transport.
//
// Unlike a callback API, Client reports everything that happens on the
// connection as Events on a single channel supplied to Start: connects,
// losses, reconnect attempts and inbound frames. The consumer of that
// channel owns all state derived from it.
//
// Paho runs its connect and connection-lost handlers on separate
// goroutines, so a connect handler can run after the session it announces
// has already died. Such a connect is dropped: EventConnected is posted
// only while paho reports the connection open, and connect and loss are
// posted one at a time, so the last of them always matches paho.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   pahomqtt.Client
	options  *pahomqtt.ClientOptions
	cfg      config.MQTTConfig
	endpoint string

	// newClient builds the paho client; replaced in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	events chan<- Event
	done   chan struct{}

	started   bool
	connected bool
	connMu    sync.RWMutex

	// transitionMu serialises the check-and-post of connect and loss.
	transitionMu sync.Mutex

	closeOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// New prepares a Client from configuration without connecting.
//
// Returns:
//   - *Client: Client ready for Start
//   - error: If the broker URL cannot be used
func New(cfg config.MQTTConfig) (*Client, error) {
	opts, endpoint, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		options:   opts,
		endpoint:  endpoint,
		newClient: pahomqtt.NewClient,
		done:      make(chan struct{}),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.post(Event{Kind: EventReconnecting, ReceivedAt: time.Now()})
	})

	return c, nil
}

// Endpoint returns the normalised broker URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Start begins connecting in the background and returns immediately.
//
// Paho retries the initial connection and every later reconnect with capped
// backoff, indefinitely. All outcomes arrive on events; Start itself only
// fails if called twice.
func (c *Client) Start(events chan<- Event) error {
	c.connMu.Lock()
	if c.started {
		c.connMu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.events = events
	c.client = c.newClient(c.options)
	c.connMu.Unlock()

	token := c.client.Connect()
	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT connect gave up", "endpoint", c.endpoint, "error", err)
				}
			}
		case <-c.done:
		}
	}()

	return nil
}

// handleConnect is called by paho when the connection is established.
func (c *Client) handleConnect() {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.connMu.Lock()
	client := c.client
	if client == nil || !client.IsConnectionOpen() {
		c.connMu.Unlock()
		// stale: the connection died before this handler ran
		if logger := c.getLogger(); logger != nil {
			logger.Debug("MQTT connect superseded by connection loss", "endpoint", c.endpoint)
		}
		return
	}
	c.connected = true
	c.connMu.Unlock()

	c.post(Event{Kind: EventConnected, ReceivedAt: time.Now()})
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.post(Event{Kind: EventConnectionLost, Err: err, ReceivedAt: time.Now()})
}

// post delivers an event, blocking until it is taken or the client closes.
// Blocking keeps frames in order and never drops one.
func (c *Client) post(ev Event) {
	c.connMu.RLock()
	events := c.events
	c.connMu.RUnlock()
	if events == nil {
		return
	}

	select {
	case events <- ev:
	case <-c.done:
	}
}

// Close disconnects from the broker and stops posting events.
// Calling Close more than once is safe.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		client := c.client
		c.connected = false
		c.connMu.Unlock()

		if client != nil {
			client.Disconnect(defaultDisconnectQuiesce)
		}
	})
	return nil
}

// HealthCheck reports whether the connection is currently usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetLogger sets a logger for connection and handler problems.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// frameHandler turns paho deliveries into EventFrame posts.
// The payload is copied; paho may reuse its buffer.
func (c *Client) frameHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())

		c.post(Event{
			Kind:       EventFrame,
			Topic:      msg.Topic(),
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	}
}
