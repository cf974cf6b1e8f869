package mqtt

import (
	"crypto/tls"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/webiot/relay/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds each individual connect attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is used when the config carries no publish timeout.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout is used when the config carries no subscribe timeout.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 500 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// clientIDSuffixLen is how much of a UUID is appended to the client ID.
	clientIDSuffixLen = 8

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from relay config.
//
// This configures:
//   - Broker URL (mqtt:// and mqtts:// normalised to tcp:// and ssl://)
//   - A unique client ID (configured prefix plus a random suffix)
//   - Authentication credentials (if provided)
//   - Connect retry and auto-reconnect with capped backoff
//   - TLS (for ssl://, tls:// and wss:// endpoints)
//   - Clean session; the relay re-subscribes after every connect
func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, string, error) {
	brokerURL, err := config.BrokerURL(cfg.URL)
	if err != nil {
		return nil, "", err
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(uniqueClientID(cfg.ClientID))

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetResumeSubs(false)

	// Frames must reach the handler one at a time, in broker order.
	opts.SetOrderMatters(true)

	// Retry the first connection as well as every reconnect, forever.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(secondsOr(cfg.Reconnect.InitialDelay, time.Second))
	opts.SetMaxReconnectInterval(secondsOr(cfg.Reconnect.MaxDelay, time.Minute))

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if needsTLS(brokerURL) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts, brokerURL, nil
}

// uniqueClientID appends a random suffix so several relay instances can
// share a broker without kicking each other off.
func uniqueClientID(prefix string) string {
	if prefix == "" {
		prefix = "webiot-relay"
	}
	return prefix + "-" + uuid.NewString()[:clientIDSuffixLen]
}

func needsTLS(brokerURL string) bool {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "ssl", "tls", "wss":
		return true
	}
	return false
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
