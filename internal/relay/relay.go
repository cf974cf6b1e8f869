package relay

import (
	"context"
	"sync"
	"time"

	"github.com/webiot/relay/internal/infrastructure/config"
	"github.com/webiot/relay/internal/infrastructure/mqtt"
)

// Transport is the broker connection the relay drives.
// *mqtt.Client implements it; tests substitute a fake.
type Transport interface {
	// Start begins connecting without blocking and posts all activity to events.
	Start(events chan<- mqtt.Event) error
	// Subscribe requests frames for topic; they arrive as mqtt.EventFrame.
	Subscribe(topic string, qos byte) error
	// Publish sends payload, waiting at most until ctx is done.
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	// Close disconnects and stops posting events.
	Close() error
}

// Logger defines the logging interface used by the Relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener observes relay activity. Callbacks run on the dispatcher
// goroutine and must return quickly without calling back into ingestion.
type Listener interface {
	MessageIngested(msg Message, control bool)
	StateChanged(status Status)
}

// Recorder receives counters; implemented by the metrics package.
type Recorder interface {
	FrameIngested(control bool)
	PublishResult(outcome string)
	SetConnected(connected bool)
	SetHistorySize(n int)
	Reconnecting()
}

type noopRecorder struct{}

func (noopRecorder) FrameIngested(bool)   {}
func (noopRecorder) PublishResult(string) {}
func (noopRecorder) SetConnected(bool)    {}
func (noopRecorder) SetHistorySize(int)   {}
func (noopRecorder) Reconnecting()        {}

// Publish outcome labels passed to Recorder.PublishResult.
const (
	OutcomeSuccess      = "success"
	OutcomeNotConnected = "not_connected"
	OutcomeFailed       = "failed"
	OutcomeInvalid      = "invalid"
)

// Config holds relay settings.
type Config struct {
	Endpoint       string
	SubscribeTopic string
	PublishTopic   string
	QoS            byte
	HistorySize    int
	EventBuffer    int
	PublishTimeout time.Duration
}

// ConfigFrom extracts relay settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	endpoint, err := config.BrokerURL(cfg.MQTT.URL)
	if err != nil {
		endpoint = cfg.MQTT.URL
	}
	return Config{
		Endpoint:       endpoint,
		SubscribeTopic: cfg.MQTT.Topics.Subscribe,
		PublishTopic:   cfg.MQTT.Topics.Publish,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		HistorySize:    cfg.Relay.HistorySize,
		EventBuffer:    cfg.Relay.EventBuffer,
		PublishTimeout: cfg.MQTT.GetPublishTimeout(),
	}
}

const (
	defaultEventBuffer    = 256
	defaultPublishTimeout = 5 * time.Second
)

// subscribeResult reports a finished subscribe for a given connection.
type subscribeResult struct {
	generation uint64
	err        error
}

// Relay owns the broker connection state and the message store.
//
// A single dispatcher goroutine consumes transport events and is the only
// writer of both. HTTP handlers read through Status, PeekLatest and
// VisibleHistory and publish through Publish and SendChat.
//
// All exported methods are safe for concurrent use.
type Relay struct {
	cfg       Config
	transport Transport
	store     *Store
	logger    Logger
	recorder  Recorder

	events     chan mqtt.Event
	subResults chan subscribeResult
	stop       chan struct{}
	stopped    chan struct{}

	// Written only by the dispatcher; read under mu.
	mu             sync.RWMutex
	state          State
	subscribed     bool
	connectedSince time.Time
	lastError      string
	reconnects     uint64
	started        bool

	// Dispatcher-only.
	seq        uint64
	generation uint64

	listenersMu sync.RWMutex
	listeners   []Listener

	closeOnce sync.Once
}

// New creates a relay over transport. Call Start to begin connecting.
func New(cfg Config, transport Transport) *Relay {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.PublishTimeout <= 0 || cfg.PublishTimeout > defaultPublishTimeout {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Relay{
		cfg:        cfg,
		transport:  transport,
		store:      NewStore(cfg.HistorySize),
		logger:     noopLogger{},
		recorder:   noopRecorder{},
		events:     make(chan mqtt.Event, cfg.EventBuffer),
		subResults: make(chan subscribeResult, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		state:      StateDisconnected,
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// SetRecorder sets the metrics recorder. Call before Start.
func (r *Relay) SetRecorder(recorder Recorder) {
	r.recorder = recorder
}

// AddListener registers a listener for ingestion and state changes.
func (r *Relay) AddListener(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// Start begins connecting and launches the dispatcher. It does not wait
// for the connection; progress is visible through Status. The dispatcher
// runs until ctx is cancelled or Close is called.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.state = StateConnecting
	r.mu.Unlock()

	if err := r.transport.Start(r.events); err != nil {
		r.setDisconnected(err)
		close(r.stopped)
		return err
	}

	r.logger.Info("relay starting",
		"endpoint", r.cfg.Endpoint,
		"subscribe_topic", r.cfg.SubscribeTopic,
		"publish_topic", r.cfg.PublishTopic,
		"history_size", r.store.Cap(),
	)

	go r.run(ctx)
	return nil
}

// Close stops the dispatcher and disconnects the transport.
// Calling Close more than once is safe.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)

		r.mu.RLock()
		started := r.started
		r.mu.RUnlock()
		if started {
			<-r.stopped
		}

		err = r.transport.Close()
		r.setDisconnected(nil)
		r.logger.Info("relay stopped")
	})
	return err
}

// run is the dispatcher loop.
func (r *Relay) run(ctx context.Context) {
	defer close(r.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case ev := <-r.events:
			r.handle(ev)
		case res := <-r.subResults:
			r.handleSubscribed(res)
		}
	}
}

func (r *Relay) handle(ev mqtt.Event) {
	switch ev.Kind {
	case mqtt.EventConnected:
		r.handleConnected(ev)
	case mqtt.EventConnectionLost:
		r.handleConnectionLost(ev)
	case mqtt.EventReconnecting:
		r.handleReconnecting()
	case mqtt.EventFrame:
		r.ingest(ev)
	default:
		r.logger.Warn("unknown transport event", "kind", ev.Kind.String())
	}
}

func (r *Relay) handleConnected(ev mqtt.Event) {
	r.generation++
	generation := r.generation

	r.mu.Lock()
	r.state = StateConnected
	r.subscribed = false
	r.connectedSince = ev.ReceivedAt
	r.lastError = ""
	r.mu.Unlock()

	r.logger.Info("connected to broker", "endpoint", r.cfg.Endpoint)
	r.recorder.SetConnected(true)
	r.notifyState()

	// Paho delivers SUBACK on the goroutine that also feeds our events, so
	// waiting here would stall the dispatcher; the result comes back on
	// subResults instead.
	go func() {
		err := r.transport.Subscribe(r.cfg.SubscribeTopic, r.cfg.QoS)
		select {
		case r.subResults <- subscribeResult{generation: generation, err: err}:
		case <-r.stop:
		}
	}()
}

func (r *Relay) handleSubscribed(res subscribeResult) {
	if res.generation != r.generation {
		// answer for a connection that has since dropped
		return
	}

	r.mu.Lock()
	if r.state != StateConnected {
		r.mu.Unlock()
		return
	}
	r.subscribed = res.err == nil
	if res.err != nil {
		r.lastError = res.err.Error()
	}
	r.mu.Unlock()

	if res.err != nil {
		// The connection stays up; only the subscription failed.
		r.logger.Error("subscribe failed", "topic", r.cfg.SubscribeTopic, "error", res.err)
	} else {
		r.logger.Info("subscribed", "topic", r.cfg.SubscribeTopic)
	}
	r.notifyState()
}

func (r *Relay) handleConnectionLost(ev mqtt.Event) {
	r.mu.Lock()
	r.state = StateReconnecting
	r.subscribed = false
	r.connectedSince = time.Time{}
	if ev.Err != nil {
		r.lastError = ev.Err.Error()
	}
	r.mu.Unlock()

	r.logger.Warn("broker connection lost", "endpoint", r.cfg.Endpoint, "error", ev.Err)
	r.recorder.SetConnected(false)
	r.notifyState()
}

func (r *Relay) handleReconnecting() {
	r.mu.Lock()
	changed := r.state != StateReconnecting
	r.state = StateReconnecting
	r.reconnects++
	r.mu.Unlock()

	r.logger.Debug("reconnecting to broker", "endpoint", r.cfg.Endpoint)
	r.recorder.Reconnecting()
	if changed {
		r.notifyState()
	}
}

func (r *Relay) ingest(ev mqtt.Event) {
	r.seq++
	msg := NewMessage(r.seq, ev.Topic, ev.Payload, ev.ReceivedAt)
	r.store.Ingest(msg)

	control := IsControl(msg)
	r.recorder.FrameIngested(control)
	r.recorder.SetHistorySize(r.store.Len())

	r.logger.Debug("frame ingested",
		"seq", msg.Seq(),
		"topic", msg.Topic(),
		"bytes", len(ev.Payload),
		"control", control,
	)

	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, l := range r.listeners {
		l.MessageIngested(msg, control)
	}
}

func (r *Relay) setDisconnected(err error) {
	r.mu.Lock()
	r.state = StateDisconnected
	r.subscribed = false
	r.connectedSince = time.Time{}
	if err != nil {
		r.lastError = err.Error()
	}
	r.mu.Unlock()

	r.recorder.SetConnected(false)
	r.notifyState()
}

func (r *Relay) notifyState() {
	status := r.Status()

	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, l := range r.listeners {
		l.StateChanged(status)
	}
}
