package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/webiot/relay/internal/audit"
	"github.com/webiot/relay/internal/auth"
	"github.com/webiot/relay/internal/infrastructure/config"
	"github.com/webiot/relay/internal/infrastructure/database"
	"github.com/webiot/relay/internal/infrastructure/logging"
	"github.com/webiot/relay/internal/infrastructure/metrics"
	"github.com/webiot/relay/internal/infrastructure/mqtt"
	"github.com/webiot/relay/internal/relay"
	"github.com/webiot/relay/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// stubTransport stands in for the broker connection.
type stubTransport struct {
	mu         sync.Mutex
	events     chan<- mqtt.Event
	publishErr error
	published  []string
	topics     []string
}

func (b *stubTransport) Start(events chan<- mqtt.Event) error {
	b.mu.Lock()
	b.events = events
	b.mu.Unlock()
	return nil
}

func (b *stubTransport) Subscribe(string, byte) error { return nil }

func (b *stubTransport) Publish(_ context.Context, topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.published = append(b.published, string(payload))
	return b.publishErr
}

func (b *stubTransport) Close() error { return nil }

func (b *stubTransport) post(ev mqtt.Event) {
	b.mu.Lock()
	events := b.events
	b.mu.Unlock()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	events <- ev
}

func (b *stubTransport) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *stubTransport) lastPublished() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[len(b.topics)-1], b.published[len(b.published)-1]
}

// testEnv bundles a server with the pieces tests poke at.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	relay     *relay.Relay
	transport *stubTransport
	metrics   *metrics.Metrics
}

// newTestEnv builds a server over a started relay on a stub transport and
// an in-memory account store.
func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate(ctx, migrations.FS)
	require.NoError(t, err)

	transport := &stubTransport{}
	rl := relay.New(relay.Config{
		Endpoint:       "tcp://localhost:1883",
		SubscribeTopic: "iot/demo",
		PublishTopic:   "iot/commands",
		HistorySize:    20,
		PublishTimeout: time.Second,
	}, transport)

	m := metrics.New()
	rl.SetRecorder(m)

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{CookieName: "webiot_session"},
		Logger:   logging.Discard(),
		Relay:    rl,
		Accounts: auth.NewStore(db.DB, auth.Hasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}),
		Sessions: auth.NewSessions([]byte(testSecret), time.Hour),
		Audit:    audit.NewSQLiteRepository(db.DB),
		Metrics:  m,
		Database: db,
		Version:  "test",
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	srv, err := New(deps)
	require.NoError(t, err)

	// Start is not called for router tests, so run the audit writer here.
	if srv.auditRepo != nil {
		auditCtx, stopAudit := context.WithCancel(ctx)
		go srv.drainAuditLog(auditCtx)
		t.Cleanup(stopAudit)
	}

	require.NoError(t, rl.Start(ctx))
	t.Cleanup(func() { _ = rl.Close() })

	return &testEnv{
		srv:       srv,
		handler:   srv.buildRouter(),
		relay:     rl,
		transport: transport,
		metrics:   m,
	}
}

// connect brings the relay up and waits for the subscription.
func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	e.transport.post(mqtt.Event{Kind: mqtt.EventConnected})
	require.Eventually(t, func() bool { return e.relay.Status().Subscribed }, time.Second, 5*time.Millisecond)
}

// frame delivers an inbound message and waits until it is stored.
func (e *testEnv) frame(t *testing.T, topic, payload string) {
	t.Helper()
	before := e.relay.StoreStats().Ingested
	e.transport.post(mqtt.Event{Kind: mqtt.EventFrame, Topic: topic, Payload: []byte(payload)})
	require.Eventually(t, func() bool { return e.relay.StoreStats().Ingested > before }, time.Second, 5*time.Millisecond)
}

// token registers a user and returns a bearer token for them.
func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// do sends a request through the router. body may be nil, a string of raw
// JSON, or any value to encode.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// decode reads a JSON response body into a generic map.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
