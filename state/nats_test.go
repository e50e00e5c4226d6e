//go:build integration

package state

import (
	"os"
	"testing"

	"github.com/nats-io/nats.go"
)

func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

func newTestNATSStore(t *testing.T, bucket string) *NATSStore {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	store, err := NewNATSStore(NATSStoreConfig{
		Conn:   conn,
		Bucket: bucket,
	})
	if err != nil {
		conn.Close()
		t.Fatalf("NewNATSStore failed: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		conn.Close()
	})
	return store
}

func TestNATSStore_Conformance(t *testing.T) {
	s := newTestNATSStore(t, "taskkit-test-conformance")
	for _, k := range []string{"a.1", "a.2", "b.1"} {
		_ = s.Delete(k)
	}
	runConformance(t, s)
}
