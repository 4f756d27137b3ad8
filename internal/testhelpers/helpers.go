// Package testhelpers provides common utilities and helper functions for testing the GeniusTalk server.
//
// It provides functions for making HTTP requests, dialing the WebSocket
// endpoint of a test server and exchanging envelopes with it, so the server
// tests stay focused on behaviour.
package testhelpers

import (
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/geniustalk/internal/relay"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// MakeRequest creates and executes an HTTP request, returning the response.
// The caller closes the body.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "failed to make request")
	return resp
}

// WebSocketURL turns an http:// test server URL into its ws:// endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials the WebSocket endpoint of a test server and closes
// the connection when the test ends.
func ConnectWebSocket(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(WebSocketURL(serverURL), nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err, "failed to dial websocket")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEnvelope writes env as one JSON frame.
func SendEnvelope(t *testing.T, conn *websocket.Conn, env relay.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

// SendRaw writes a raw text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReadEnvelope reads and decodes the next frame.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	var env relay.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ReadRaw reads the next frame without decoding it.
func ReadRaw(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// Register sends a register envelope and waits for the info reply.
func Register(t *testing.T, conn *websocket.Conn, phone string) {
	t.Helper()
	SendEnvelope(t, conn, relay.Envelope{Type: relay.TypeRegister, Phone: phone})
	env := ReadEnvelope(t, conn)
	require.Equal(t, relay.TypeInfo, env.Type, "register not acknowledged: %+v", env)
}

// ExpectNoMessage fails if a frame arrives within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

// ExpectClose reads until the server closes the connection and returns the
// close error.
func ExpectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, "connection ended without close frame")
		return closeErr
	}
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
