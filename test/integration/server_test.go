package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat/test/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	testServer, _ := startService(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/")
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	testServer, _ := startService(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodPost, testServer.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMessagesEndpointServesRecentWindow(t *testing.T) {
	testServer, _ := startService(t, nil)
	wsURL := testhelpers.WebSocketURL(t, testServer.URL)

	alice, _ := joinChat(t, wsURL, "")
	require.NoError(t, testhelpers.SendEvent(alice, map[string]any{
		"event": "sendMessage", "body": "for the record",
	}))
	testhelpers.ReceiveEventOfType(t, alice, "message", 2*time.Second)
	require.NoError(t, testhelpers.SendEvent(alice, map[string]any{
		"event": "sendMessage", "body": "between us", "recipient": "QuietOwl#777",
	}))
	testhelpers.ReceiveEventOfType(t, alice, "message", 2*time.Second)

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/api/messages")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var messages []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))

	var bodies []string
	for _, m := range messages {
		if body, ok := m["body"].(string); ok {
			bodies = append(bodies, body)
		}
	}
	require.Contains(t, bodies, "for the record")
	// Directed messages are not exposed on the unauthenticated endpoint.
	require.NotContains(t, bodies, "between us")
}

func TestActiveUsersEndpointListsSessions(t *testing.T) {
	testServer, _ := startService(t, nil)
	wsURL := testhelpers.WebSocketURL(t, testServer.URL)

	_, aliceID := joinChat(t, wsURL, "")
	_, bobID := joinChat(t, wsURL, "")

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/api/active-users")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions, 2)

	identities := []string{sessions[0]["identity"].(string), sessions[1]["identity"].(string)}
	require.ElementsMatch(t, identities, []string{aliceID, bobID})
}

func TestStatsEndpointReportsCounters(t *testing.T) {
	testServer, _ := startService(t, nil)
	wsURL := testhelpers.WebSocketURL(t, testServer.URL)

	alice, _ := joinChat(t, wsURL, "")
	require.NoError(t, testhelpers.SendEvent(alice, map[string]any{
		"event": "sendMessage", "body": "counted",
	}))
	testhelpers.ReceiveEventOfType(t, alice, "message", 2*time.Second)

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/api/stats")
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))

	// At least the join notice and the user message are stored.
	require.GreaterOrEqual(t, stats["totalMessages"], float64(2))
	require.Equal(t, float64(1), stats["totalSessions"])
	require.GreaterOrEqual(t, stats["todayMessages"], float64(2))
}
