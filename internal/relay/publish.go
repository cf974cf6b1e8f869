package relay

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxChatLength is the longest chat text SendChat accepts, in characters.
const MaxChatLength = 500

// ChatOrigin tags chat messages sent from the web interface.
const ChatOrigin = "web"

// PublishRequest is one outbound publish.
type PublishRequest struct {
	// Topic defaults to the configured command topic when empty.
	Topic string
	// Message is sent as-is when it is a string and as canonical JSON otherwise.
	// A nil Message sends "{}".
	Message any
}

// Receipt confirms the broker accepted a publish.
type Receipt struct {
	Topic     string `json:"topic"`
	Published string `json:"published"`
}

// Publish validates req and forwards it to the broker.
//
// It fails with ErrNotConnected, without touching the transport, when the
// relay is not connected, and with ErrPublishFailed when the transport
// errors or the publish timeout elapses. Both arrive as *PublishError.
// Delivery is at most once; failures are not retried.
func (r *Relay) Publish(ctx context.Context, req PublishRequest) (Receipt, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = r.cfg.PublishTopic
	}
	if strings.ContainsAny(topic, "+#") {
		r.recorder.PublishResult(OutcomeInvalid)
		return Receipt{}, fmt.Errorf("%w: wildcards are not allowed in publish topic", ErrInvalidRequest)
	}

	message := req.Message
	if message == nil {
		message = map[string]any{}
	}
	payload, err := Canonical(message)
	if err != nil {
		r.recorder.PublishResult(OutcomeInvalid)
		return Receipt{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if !r.Connected() {
		r.recorder.PublishResult(OutcomeNotConnected)
		return Receipt{}, &PublishError{Topic: topic, Payload: payload, Err: ErrNotConnected}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	if err := r.transport.Publish(ctx, topic, []byte(payload), r.cfg.QoS, false); err != nil {
		r.recorder.PublishResult(OutcomeFailed)
		r.logger.Warn("publish failed", "topic", topic, "error", err)
		return Receipt{}, &PublishError{Topic: topic, Payload: payload, Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)}
	}

	r.recorder.PublishResult(OutcomeSuccess)
	r.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return Receipt{Topic: topic, Published: payload}, nil
}

// ChatMessage is the structured payload sent for chat text.
type ChatMessage struct {
	From      string `json:"from"`
	User      string `json:"user"`
	Msg       string `json:"msg"`
	Timestamp string `json:"timestamp"`
}

// SendChat publishes text on behalf of user to the command topic as
// {"from":"web","user":...,"msg":...,"timestamp":...}.
//
// The text is trimmed; empty text or text over MaxChatLength characters is
// rejected with ErrInvalidRequest before anything is sent.
func (r *Relay) SendChat(ctx context.Context, user, text string) (ChatMessage, Receipt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, Receipt{}, fmt.Errorf("%w: message cannot be empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return ChatMessage{}, Receipt{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidRequest, MaxChatLength)
	}

	chat := ChatMessage{
		From:      ChatOrigin,
		User:      user,
		Msg:       text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	receipt, err := r.Publish(ctx, PublishRequest{Message: chat})
	if err != nil {
		return ChatMessage{}, Receipt{}, err
	}
	return chat, receipt, nil
}
