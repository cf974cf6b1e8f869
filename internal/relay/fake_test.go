package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webiot/relay/internal/infrastructure/mqtt"
)

type sent struct {
	topic   string
	payload string
	qos     byte
}

// fakeTransport records calls and lets tests post transport events.
type fakeTransport struct {
	mu sync.Mutex

	events chan<- mqtt.Event

	startErr     error
	subscribeErr error
	publishErr   error
	publishBlock bool

	subscribes []string
	sends      []sent
	closed     bool
}

func (f *fakeTransport) Start(events chan<- mqtt.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.events = events
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, topic)
	return f.subscribeErr
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte, qos byte, _ bool) error {
	f.mu.Lock()
	f.sends = append(f.sends, sent{topic: topic, payload: string(payload), qos: qos})
	block, err := f.publishBlock, f.publishErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) post(ev mqtt.Event) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	events <- ev
}

func (f *fakeTransport) connect() {
	f.post(mqtt.Event{Kind: mqtt.EventConnected})
}

func (f *fakeTransport) lose(err error) {
	f.post(mqtt.Event{Kind: mqtt.EventConnectionLost, Err: err})
}

func (f *fakeTransport) frame(topic, payload string) {
	f.post(mqtt.Event{Kind: mqtt.EventFrame, Topic: topic, Payload: []byte(payload)})
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeTransport) lastSend() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[len(f.sends)-1]
}

func (f *fakeTransport) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func testRelayConfig() Config {
	return Config{
		Endpoint:       "tcp://localhost:1883",
		SubscribeTopic: "iot/demo",
		PublishTopic:   "iot/commands",
		HistorySize:    10,
		PublishTimeout: time.Second,
	}
}

// startRelay starts a relay on a fake transport and stops it at test end.
func startRelay(t *testing.T, cfg Config) (*Relay, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	r := New(cfg, transport)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r, transport
}

// connectRelay starts a relay and waits until it is connected and subscribed.
func connectRelay(t *testing.T) (*Relay, *fakeTransport) {
	t.Helper()
	r, transport := startRelay(t, testRelayConfig())
	transport.connect()
	require.Eventually(t, func() bool { return r.Status().Subscribed }, time.Second, 5*time.Millisecond)
	return r, transport
}

// waitIngested blocks until the store holds n messages in total.
func waitIngested(t *testing.T, r *Relay, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return r.StoreStats().Ingested >= n }, time.Second, 5*time.Millisecond)
}

// recordingListener captures listener callbacks.
type recordingListener struct {
	mu       sync.Mutex
	messages []Message
	controls []bool
	states   []Status
}

func (l *recordingListener) MessageIngested(msg Message, control bool) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.controls = append(l.controls, control)
	l.mu.Unlock()
}

func (l *recordingListener) StateChanged(status Status) {
	l.mu.Lock()
	l.states = append(l.states, status)
	l.mu.Unlock()
}

func (l *recordingListener) messageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
