package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHub builds a hub without starting its run loop; tests drive the
// registration paths directly.
func newTestHub(t *testing.T, store storage.Store) *Hub {
	t.Helper()
	cfg := NewConfig()
	cfg.JoinNoticeDelay = 0
	return NewHub(cfg, store, testLogger())
}

// addClient attaches a connection-less client to the hub and, when identity
// is non-empty, registers it as a confirmed session.
func addClient(hub *Hub, identity string) *Client {
	client := NewClient(nil, hub, "test-addr")
	hub.mutex.Lock()
	hub.clients[client] = true
	hub.mutex.Unlock()
	if identity != "" {
		hub.registry.Register(client, identity)
		client.setIdentity(identity)
	}
	return client
}

func recvEvent(t *testing.T, client *Client) ServerEvent {
	t.Helper()
	select {
	case payload := <-client.send:
		var ev ServerEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ServerEvent{}
	}
}

func expectNoEvent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected event delivered: %s", payload)
	default:
	}
}
