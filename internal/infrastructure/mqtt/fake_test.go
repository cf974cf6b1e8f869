package mqtt

import (
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken completes immediately unless blocked is set.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho stands in for a paho client so handlers can be driven directly.
type fakePaho struct {
	mu sync.Mutex

	opts      *pahomqtt.ClientOptions
	connected bool

	publishErr   error
	publishBlock bool
	subscribeErr error

	handlers     map[string]pahomqtt.MessageHandler
	published    []published
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() pahomqtt.Token {
	return newToken(nil, false)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: b})
	return newToken(f.publishErr, !f.publishBlock)
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr == nil {
		f.handlers[topic] = callback
	}
	return newToken(f.subscribeErr, true)
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return newToken(errors.New("not supported"), true)
}

func (f *fakePaho) Unsubscribe(...string) pahomqtt.Token { return newToken(nil, true) }

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// connect simulates paho establishing the connection.
func (f *fakePaho) connect() {
	f.mu.Lock()
	f.connected = true
	opts := f.opts
	f.mu.Unlock()
	opts.OnConnect(f)
}

// connectStale runs the connect handler for a session that has already
// dropped, as paho can when its handler goroutines race.
func (f *fakePaho) connectStale() {
	f.mu.Lock()
	opts := f.opts
	f.mu.Unlock()
	opts.OnConnect(f)
}

// lose simulates the connection dropping.
func (f *fakePaho) lose(err error) {
	f.mu.Lock()
	f.connected = false
	opts := f.opts
	f.mu.Unlock()
	opts.OnConnectionLost(f, err)
}

// deliver simulates an inbound frame on a subscribed filter.
func (f *fakePaho) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: payload})
}

func (f *fakePaho) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}
