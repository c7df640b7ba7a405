// Package testhelpers provides common utilities for testing the veilchat server.
//
// It contains reusable helpers shared across the integration tests: starting a
// fully wired service on a test HTTP server, dialing WebSocket clients with an
// allowed origin, and exchanging protocol events over the connection.
package testhelpers

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the origin header test clients present; it must be in the
// service's allow-list.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL converts a test server's base URL into the ws:// URL of the
// chat endpoint.
func WebSocketURL(t *testing.T, baseURL string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the test origin header set. It returns the connection or an error.
func ConnectWebSocket(wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials the chat endpoint and fails the test on error. The
// connection is closed automatically when the test ends.
func MustConnect(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(wsURL)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one JSON event to the connection.
func SendEvent(conn *websocket.Conn, event map[string]any) error {
	return conn.WriteJSON(event)
}

// ReceiveEvent reads the next JSON event from the connection, failing the
// test if nothing arrives within timeout.
func ReceiveEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to receive event: %v", err)
	}
	return event
}

// ReceiveEventOfType reads events until one with the wanted event name
// arrives, failing the test when the deadline passes first. Interleaved
// events of other types (typing signals, join notices) are skipped.
func ReceiveEventOfType(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		received := ReceiveEvent(t, conn, time.Until(deadline))
		if received["event"] == event {
			return received
		}
	}
	t.Fatalf("Timed out waiting for %q event", event)
	return nil
}

// ProposeAndConfirm sends an identity proposal (empty for a fresh mint) and
// waits for the confirmation, returning the identity the server assigned.
func ProposeAndConfirm(t *testing.T, conn *websocket.Conn, proposed string) string {
	t.Helper()
	if err := SendEvent(conn, map[string]any{"event": "proposeIdentity", "identity": proposed}); err != nil {
		t.Fatalf("Failed to send identity proposal: %v", err)
	}
	confirmed := ReceiveEventOfType(t, conn, "identityConfirmed", 2*time.Second)
	identity, ok := confirmed["identity"].(string)
	if !ok || identity == "" {
		t.Fatalf("Confirmation carried no identity: %v", confirmed)
	}
	return identity
}

// ExpectNoEvent asserts that nothing arrives on the connection within timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no event, but received: %s", payload)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of events: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
