package bus

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	b, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	b.Close()

	return url
}

// --- Integration Tests ---

func TestNATSBus_PubSubWildcard(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	b, err := NewNATSBus(cfg)
	require.NoError(t, err)
	defer b.Close()

	sub, err := b.Subscribe("taskkit_test.*")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish("taskkit_test.ping", []byte("hello nats")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "taskkit_test.ping", msg.Subject)
		require.Equal(t, "hello nats", string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// --- Failure Tests ---

func TestNATSBus_InvalidURL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = "nats://invalid-host-that-does-not-exist:4222"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := NewNATSBus(cfg)
	require.Error(t, err)
}

func TestNATSBus_PublishAfterClose(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	b, err := NewNATSBus(cfg)
	require.NoError(t, err)

	b.Close()
	require.ErrorIs(t, b.Publish("test", []byte("hello")), ErrClosed)
}
