package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_NonBlockingConnecting(t *testing.T) {
	r, transport := startRelay(t, testRelayConfig())

	status := r.Status()
	assert.Equal(t, StateConnecting, status.State)
	assert.False(t, status.Connected)
	assert.Equal(t, "iot/demo", status.SubscribedTopic)
	assert.Equal(t, "iot/commands", status.PublishTopic)
	assert.Equal(t, 0, transport.subscribeCount())
}

func TestStart_Twice(t *testing.T) {
	r, _ := startRelay(t, testRelayConfig())
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
}

func TestStart_TransportError(t *testing.T) {
	transport := &fakeTransport{startErr: errors.New("bad options")}
	r := New(testRelayConfig(), transport)

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, r.Status().State)
	assert.NoError(t, r.Close())
}

func TestConnect_Subscribes(t *testing.T) {
	r, transport := connectRelay(t)

	status := r.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, StateConnected, status.State)
	assert.True(t, status.Subscribed)
	assert.NotNil(t, status.ConnectedSince)
	assert.Equal(t, 1, transport.subscribeCount())
}

func TestConnect_SubscribeFailureStaysConnected(t *testing.T) {
	transport := &fakeTransport{subscribeErr: errors.New("not authorised")}
	r := New(testRelayConfig(), transport)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })

	transport.connect()
	require.Eventually(t, func() bool { return r.Status().LastError != "" }, time.Second, 5*time.Millisecond)

	status := r.Status()
	assert.True(t, status.Connected)
	assert.False(t, status.Subscribed)
	assert.Contains(t, status.LastError, "not authorised")
}

func TestConnectionLost_ThenReconnect(t *testing.T) {
	r, transport := connectRelay(t)

	transport.lose(errors.New("EOF"))
	require.Eventually(t, func() bool { return !r.Connected() }, time.Second, 5*time.Millisecond)

	status := r.Status()
	assert.Equal(t, StateReconnecting, status.State)
	assert.False(t, status.Subscribed)
	assert.Nil(t, status.ConnectedSince)
	assert.Equal(t, "EOF", status.LastError)

	// every connect re-subscribes
	transport.connect()
	require.Eventually(t, func() bool { return r.Status().Subscribed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, transport.subscribeCount())
	assert.Empty(t, r.Status().LastError)
}

func TestFramesIngestedInOrder(t *testing.T) {
	r, transport := connectRelay(t)

	for i := 1; i <= 25; i++ {
		transport.frame("iot/demo", fmt.Sprintf(`{"n":%d}`, i))
	}
	waitIngested(t, r, 25)

	history := r.History()
	require.Len(t, history, 10, "capacity bounds history")
	for i, msg := range history {
		assert.Equal(t, uint64(16+i), msg.Seq())
		n, _ := msg.Payload().Field("n")
		assert.Equal(t, json.Number(strconv.Itoa(16 + i)), n)
	}
}

func TestMalformedPayloadRetainedAsText(t *testing.T) {
	r, transport := connectRelay(t)

	transport.frame("iot/demo", `{"broken":`)
	waitIngested(t, r, 1)

	latest := r.PeekLatest()
	require.True(t, latest.Found)
	assert.False(t, latest.Message.Payload().IsStructured())
	assert.Equal(t, `{"broken":`, latest.Message.Payload().Text())
}

func TestControlHiddenFromVisibleHistoryOnly(t *testing.T) {
	r, transport := connectRelay(t)

	transport.frame("iot/demo", "MODE:quiet")
	transport.frame("iot/demo", `{"from":"device","msg":"temp 21C"}`)
	transport.frame("iot/demo", "MODE:party")
	waitIngested(t, r, 3)

	visible := r.VisibleHistory()
	require.Len(t, visible, 1)
	assert.Equal(t, `{"from":"device","msg":"temp 21C"}`, visible[0].Raw())

	latest := r.PeekLatest()
	require.True(t, latest.Found)
	assert.Equal(t, "MODE:party", latest.Message.Raw())
	assert.True(t, latest.Control)
	assert.Len(t, r.History(), 3)
}

func TestScenario_ModeThenTelemetry(t *testing.T) {
	r, transport := connectRelay(t)

	transport.frame("iot/demo", "MODE:quiet")
	transport.frame("iot/demo", `{"from":"device","msg":"temp 21C"}`)
	waitIngested(t, r, 2)

	visible := r.VisibleHistory()
	require.Len(t, visible, 1)
	assert.Equal(t, "temp 21C", mustField(t, visible[0], "msg"))

	// latest follows ingestion order; filtering applies to the visible view only
	latest := r.PeekLatest()
	assert.Equal(t, uint64(2), latest.Message.Seq())
	history := r.History()
	assert.Equal(t, history[len(history)-1], latest.Message)

	transport.frame("iot/demo", "MODE:quiet")
	waitIngested(t, r, 3)

	latest = r.PeekLatest()
	assert.Equal(t, "MODE:quiet", latest.Message.Raw())
	assert.True(t, latest.Control)
	assert.Len(t, r.VisibleHistory(), 1)
}

func TestPeekLatest_Empty(t *testing.T) {
	r, _ := startRelay(t, testRelayConfig())
	latest := r.PeekLatest()
	assert.False(t, latest.Found)
	assert.True(t, latest.Message.IsZero())
	assert.Empty(t, r.VisibleHistory())
}

func TestListenersNotified(t *testing.T) {
	transport := &fakeTransport{}
	r := New(testRelayConfig(), transport)
	listener := &recordingListener{}
	r.AddListener(listener)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })

	transport.connect()
	transport.frame("iot/demo", "MODE:quiet")
	transport.frame("iot/demo", "hello")
	require.Eventually(t, func() bool { return listener.messageCount() == 2 }, time.Second, 5*time.Millisecond)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, []bool{true, false}, listener.controls)
	require.NotEmpty(t, listener.states)
	assert.True(t, listener.states[0].Connected)
}

func TestPublish_NotConnectedNoTransmission(t *testing.T) {
	r, transport := startRelay(t, testRelayConfig())

	_, err := r.Publish(context.Background(), PublishRequest{Message: "MODE:quiet"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "iot/commands", pe.Topic)
	assert.Equal(t, "MODE:quiet", pe.Payload)
	assert.Equal(t, 0, transport.sendCount())
}

func TestPublish_AfterConnectionLost(t *testing.T) {
	r, transport := connectRelay(t)
	transport.lose(errors.New("EOF"))
	require.Eventually(t, func() bool { return !r.Connected() }, time.Second, 5*time.Millisecond)

	_, err := r.Publish(context.Background(), PublishRequest{Message: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, transport.sendCount())
}

func TestPublish_DefaultsAndEncoding(t *testing.T) {
	r, transport := connectRelay(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		req       PublishRequest
		wantTopic string
		wantBody  string
	}{
		{"text to default topic", PublishRequest{Message: "MODE:quiet"}, "iot/commands", "MODE:quiet"},
		{"structured to explicit topic", PublishRequest{Topic: "iot/other", Message: map[string]any{"on": true}}, "iot/other", `{"on":true}`},
		{"missing message", PublishRequest{}, "iot/commands", "{}"},
		{"blank topic uses default", PublishRequest{Topic: "  ", Message: 1}, "iot/commands", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt, err := r.Publish(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTopic, receipt.Topic)
			assert.Equal(t, tt.wantBody, receipt.Published)

			last := transport.lastSend()
			assert.Equal(t, tt.wantTopic, last.topic)
			assert.Equal(t, tt.wantBody, last.payload)
			assert.Equal(t, byte(0), last.qos)
		})
	}
}

func TestPublish_WildcardRejected(t *testing.T) {
	r, transport := connectRelay(t)

	_, err := r.Publish(context.Background(), PublishRequest{Topic: "iot/#", Message: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, transport.sendCount())
}

func TestPublish_TransportFailure(t *testing.T) {
	r, transport := connectRelay(t)
	transport.publishErr = errors.New("connection reset")

	_, err := r.Publish(context.Background(), PublishRequest{Topic: "iot/x", Message: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.NotErrorIs(t, err, ErrNotConnected)

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "iot/x", pe.Topic)
	assert.Equal(t, "hi", pe.Payload)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPublish_Timeout(t *testing.T) {
	cfg := testRelayConfig()
	cfg.PublishTimeout = 50 * time.Millisecond
	r, transport := startRelay(t, cfg)
	transport.connect()
	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)
	transport.publishBlock = true

	start := time.Now()
	_, err := r.Publish(context.Background(), PublishRequest{Message: "x"})
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNew_ClampsPublishTimeout(t *testing.T) {
	cfg := testRelayConfig()
	cfg.PublishTimeout = time.Minute
	r := New(cfg, &fakeTransport{})
	assert.Equal(t, 5*time.Second, r.cfg.PublishTimeout)
}

func TestSendChat(t *testing.T) {
	r, transport := connectRelay(t)

	chat, receipt, err := r.SendChat(context.Background(), "alice", "  hello device  ")
	require.NoError(t, err)

	assert.Equal(t, "web", chat.From)
	assert.Equal(t, "alice", chat.User)
	assert.Equal(t, "hello device", chat.Msg)
	assert.Equal(t, "iot/commands", receipt.Topic)

	var sentBody map[string]any
	require.NoError(t, json.Unmarshal([]byte(transport.lastSend().payload), &sentBody))
	assert.Equal(t, "web", sentBody["from"])
	assert.Equal(t, "alice", sentBody["user"])
	assert.Equal(t, "hello device", sentBody["msg"])
	_, err = time.Parse(time.RFC3339Nano, sentBody["timestamp"].(string))
	assert.NoError(t, err)
}

func TestSendChat_Validation(t *testing.T) {
	r, transport := connectRelay(t)
	ctx := context.Background()

	_, _, err := r.SendChat(ctx, "alice", "   ")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = r.SendChat(ctx, "alice", strings.Repeat("é", MaxChatLength+1))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = r.SendChat(ctx, "alice", strings.Repeat("é", MaxChatLength))
	assert.NoError(t, err)

	assert.Equal(t, 1, transport.sendCount())
}

func TestClose(t *testing.T) {
	transport := &fakeTransport{}
	r := New(testRelayConfig(), transport)
	require.NoError(t, r.Start(context.Background()))
	transport.connect()
	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, transport.closed)
	assert.Equal(t, StateDisconnected, r.Status().State)
}

func TestClose_WithoutStart(t *testing.T) {
	transport := &fakeTransport{}
	r := New(testRelayConfig(), transport)
	assert.NoError(t, r.Close())
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	transport := &fakeTransport{}
	r := New(testRelayConfig(), transport)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	cancel()
	select {
	case <-r.stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.NoError(t, r.Close())
}

func mustField(t *testing.T, msg Message, name string) any {
	t.Helper()
	v, ok := msg.Payload().Field(name)
	require.True(t, ok, "field %q missing", name)
	return v
}
