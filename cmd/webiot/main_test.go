package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webiot/relay/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("WEBIOT_CONFIG", writeConfig(t, "invalid: [yaml: content"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRun_ValidationFailure(t *testing.T) {
	t.Setenv("WEBIOT_CONFIG", writeConfig(t, `
mqtt:
  url: "ftp://broker"
`))

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.url")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_StartsWithoutBroker brings the whole process up against an
// unreachable broker and shuts it down cleanly.
func TestRun_StartsWithoutBroker(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	t.Setenv("WEBIOT_CONFIG", writeConfig(t, fmt.Sprintf(`
mqtt:
  url: "tcp://127.0.0.1:1"
api:
  host: "127.0.0.1"
  port: %d
database:
  path: %q
site:
  dir: %q
logging:
  level: error
  format: text
`, port, filepath.Join(dir, "webiot.db"), dir)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	client := &http.Client{Timeout: time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestSessionSecret(t *testing.T) {
	got, err := sessionSecret(config.SecurityConfig{SessionSecret: "configured-secret-configured-secret"})
	require.NoError(t, err)
	assert.Equal(t, "configured-secret-configured-secret", string(got))

	a, err := sessionSecret(config.SecurityConfig{})
	require.NoError(t, err)
	b, err := sessionSecret(config.SecurityConfig{})
	require.NoError(t, err)
	assert.Len(t, a, generatedSecretBytes)
	assert.NotEqual(t, a, b)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("WEBIOT_CONFIG", "")
	assert.Equal(t, defaultConfigPath, getConfigPath())

	t.Setenv("WEBIOT_CONFIG", "/etc/webiot.yaml")
	assert.Equal(t, "/etc/webiot.yaml", getConfigPath())
}

type checker struct{ err error }

func (c checker) HealthCheck(context.Context) error { return c.err }

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, healthCheck(ctx, checker{}, checker{}))

	err := healthCheck(ctx, checker{err: errors.New("locked")}, checker{err: errors.New("down")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database: locked")
	assert.Contains(t, err.Error(), "api: down")
}
