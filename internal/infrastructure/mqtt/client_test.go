package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webiot/relay/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		URL:              "mqtt://localhost:1883",
		ClientID:         "relay-test",
		PublishTimeout:   1,
		SubscribeTimeout: 1,
	}
}

// startedClient returns a client wired to a fake paho and its event channel.
func startedClient(t *testing.T) (*Client, *fakePaho, chan Event) {
	t.Helper()

	c, err := New(testConfig())
	require.NoError(t, err)

	fake := newFakePaho()
	c.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		fake.opts = opts
		return fake
	}

	events := make(chan Event, 16)
	require.NoError(t, c.Start(events))
	t.Cleanup(func() { _ = c.Close() })
	return c, fake, events
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNew_RejectsUnsupportedScheme(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://broker:80"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_NormalisesEndpoint(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	assert.Equal(t, "tcp://localhost:1883", c.Endpoint())
}

func TestStart_ReturnsWithoutConnecting(t *testing.T) {
	c, _, events := startedClient(t)

	assert.False(t, c.IsConnected())
	assert.Empty(t, events)
}

func TestStart_Twice(t *testing.T) {
	c, _, events := startedClient(t)
	assert.ErrorIs(t, c.Start(events), ErrAlreadyStarted)
}

func TestConnectionEvents(t *testing.T) {
	c, fake, events := startedClient(t)

	fake.connect()
	ev := nextEvent(t, events)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.True(t, c.IsConnected())

	lost := errors.New("broker went away")
	fake.lose(lost)
	ev = nextEvent(t, events)
	assert.Equal(t, EventConnectionLost, ev.Kind)
	assert.ErrorIs(t, ev.Err, lost)
	assert.False(t, c.IsConnected())
}

func TestConnectionEvents_StaleConnectDropped(t *testing.T) {
	c, fake, events := startedClient(t)

	fake.connect()
	require.Equal(t, EventConnected, nextEvent(t, events).Kind)

	// loss handler wins the race; the connect for the dead session runs after
	fake.lose(errors.New("EOF"))
	require.Equal(t, EventConnectionLost, nextEvent(t, events).Kind)
	fake.connectStale()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, c.IsConnected())

	err := c.Publish(context.Background(), "iot/commands", []byte("ON"), 0, false)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, fake.publishes())

	// the reconnect announces itself
	fake.connect()
	assert.Equal(t, EventConnected, nextEvent(t, events).Kind)
	assert.True(t, c.IsConnected())
}

func TestSubscribe_DeliversFramesInOrder(t *testing.T) {
	c, fake, events := startedClient(t)
	fake.connect()
	nextEvent(t, events)

	require.NoError(t, c.Subscribe("iot/demo", 0))

	buf := []byte(`{"n":1}`)
	fake.deliver("iot/demo", "iot/demo", buf)
	fake.deliver("iot/demo", "iot/demo", []byte(`{"n":2}`))

	// the handler must copy; paho may reuse its buffer
	buf[0] = 'X'

	first := nextEvent(t, events)
	second := nextEvent(t, events)
	assert.Equal(t, EventFrame, first.Kind)
	assert.Equal(t, "iot/demo", first.Topic)
	assert.Equal(t, `{"n":1}`, string(first.Payload))
	assert.Equal(t, `{"n":2}`, string(second.Payload))
	assert.False(t, first.ReceivedAt.IsZero())
}

func TestSubscribe_Validation(t *testing.T) {
	c, fake, events := startedClient(t)

	assert.ErrorIs(t, c.Subscribe("iot/demo", 0), ErrNotConnected)

	fake.connect()
	nextEvent(t, events)

	assert.ErrorIs(t, c.Subscribe("", 0), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("iot/demo", 3), ErrInvalidQoS)

	fake.subscribeErr = errors.New("refused")
	assert.ErrorIs(t, c.Subscribe("iot/demo", 0), ErrSubscribeFailed)
}

func TestPublish_NotConnectedSendsNothing(t *testing.T) {
	c, fake, _ := startedClient(t)

	err := c.Publish(context.Background(), "iot/commands", []byte("hi"), 0, false)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, fake.publishes())
}

func TestPublish_Success(t *testing.T) {
	c, fake, events := startedClient(t)
	fake.connect()
	nextEvent(t, events)

	err := c.Publish(context.Background(), "iot/commands", []byte(`{"a":1}`), 1, false)
	require.NoError(t, err)

	sent := fake.publishes()
	require.Len(t, sent, 1)
	assert.Equal(t, "iot/commands", sent[0].topic)
	assert.Equal(t, byte(1), sent[0].qos)
	assert.Equal(t, `{"a":1}`, string(sent[0].payload))
}

func TestPublish_BrokerError(t *testing.T) {
	c, fake, events := startedClient(t)
	fake.connect()
	nextEvent(t, events)

	fake.publishErr = errors.New("boom")
	err := c.Publish(context.Background(), "iot/commands", []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestPublish_BoundedByContext(t *testing.T) {
	c, fake, events := startedClient(t)
	fake.connect()
	nextEvent(t, events)

	fake.publishBlock = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Publish(ctx, "iot/commands", []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPublish_Validation(t *testing.T) {
	c, fake, events := startedClient(t)
	fake.connect()
	nextEvent(t, events)

	ctx := context.Background()
	assert.ErrorIs(t, c.Publish(ctx, "iot/+", nil, 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish(ctx, "iot/x", nil, 5, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish(ctx, "iot/x", make([]byte, maxPayloadSize+1), 0, false), ErrPayloadTooLarge)
	assert.Empty(t, fake.publishes())
}

func TestClose_Idempotent(t *testing.T) {
	c, fake, events := startedClient(t)
	fake.connect()
	nextEvent(t, events)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, fake.disconnected)
	assert.False(t, c.IsConnected())
}

func TestClose_UnblocksPendingPost(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	fake := newFakePaho()
	c.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		fake.opts = opts
		return fake
	}

	// unbuffered and never read
	require.NoError(t, c.Start(make(chan Event)))

	returned := make(chan struct{})
	go func() {
		fake.connect()
		close(returned)
	}()

	require.NoError(t, c.Close())
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still blocked after Close")
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake, events := startedClient(t)

	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)

	fake.connect()
	nextEvent(t, events)
	assert.NoError(t, c.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}
