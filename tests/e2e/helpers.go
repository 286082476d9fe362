// Shared helper functions for E2E tests
package e2e

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/events"
)

// startEmbeddedNATS starts an embedded NATS server for testing
func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	// Wait for server to be ready
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}

	return ns
}

// setupStore connects to the database named by DATABASE_URL, skipping
// the test when the variable is unset or the database is unreachable.
// The schema is expected to be migrated already.
func setupStore(t *testing.T) *db.DB {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping E2E test: DATABASE_URL not set")
	}

	store, err := db.New(context.Background(), "")
	if err != nil {
		t.Skipf("Skipping E2E test: failed to connect: %v", err)
	}
	t.Cleanup(store.Close)

	return store
}

// subscribeEvents collects platform events published on the subject
func subscribeEvents(t *testing.T, nc *nats.Conn, subject string) <-chan events.Event {
	t.Helper()
	ch := make(chan events.Event, 16)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		ch <- ev
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	return ch
}

// waitForEvent blocks until an event arrives or the deadline passes
func waitForEvent(t *testing.T, ch <-chan events.Event, timeout time.Duration) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for platform event")
		return events.Event{}
	}
}
