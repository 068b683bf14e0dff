package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/server/auth"
	"github.com/racepulse/telemetry-relay-go/pkg/server/registry"
	"github.com/racepulse/telemetry-relay-go/pkg/store"
	"github.com/racepulse/telemetry-relay-go/pkg/wire"
)

const testKey = "test-key"

func dialTestServer(t *testing.T) (*websocket.Conn, *registry.Registry) {
	t.Helper()
	reg := registry.New(
		registry.WithKeys(auth.NewKeySet([]string{testKey}, nil)),
		registry.WithStore(store.NewMemoryStore(time.Hour)))
	ws := NewWebsocketServer("", reg, nil)

	srv := httptest.NewServer(upgradeHandler(context.Background(), ws))
	t.Cleanup(srv.Close)

	conn := dialWebsocket(t, srv.URL)
	return conn, reg
}

func upgradeHandler(ctx context.Context, ws *WebsocketServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.handleUpgrade(ctx, w, r)
	})
}

func dialWebsocket(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, msg *model.Message, compress bool) {
	t.Helper()
	payload, err := wire.Encode(msg, compress)
	require.NoError(t, err)
	frameType := websocket.TextMessage
	if compress {
		frameType = websocket.BinaryMessage
	}
	require.NoError(t, conn.WriteMessage(frameType, payload))
}

func TestWebsocketIngestEndToEnd(t *testing.T) {
	conn, reg := dialTestServer(t)

	info, err := model.SessionInfoMessage(&model.SessionDescriptor{
		ID: "ws-1", TrackName: "tt",
	}, testKey)
	require.NoError(t, err)
	writeEnvelope(t, conn, info, false)

	require.Eventually(t, func() bool {
		return reg.Session("ws-1") != nil
	}, 2*time.Second, 10*time.Millisecond)

	// malformed frame is skipped, the connection survives
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))

	tele := &model.Message{
		Type:      model.MessageTelemetry,
		SessionID: "ws-1",
		Timestamp: 3.5,
		Data:      []byte(`{"lap":1,"speed":50.0}`),
		Events:    []string{},
	}
	// binary frames are deflate compressed and decoded transparently
	writeEnvelope(t, conn, tele, true)

	require.Eventually(t, func() bool {
		s := reg.Session("ws-1")
		return s != nil && s.SampleCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	conn, reg := dialTestServer(t)

	require.Eventually(t, func() bool {
		clients, _ := reg.Counts()
		return clients == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		clients, _ := reg.Counts()
		return clients == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketShutdownClosesConnections(t *testing.T) {
	reg := registry.New(registry.WithKeys(auth.NewKeySet([]string{testKey}, nil)))
	ws := NewWebsocketServer("", reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(upgradeHandler(ctx, ws))
	t.Cleanup(srv.Close)

	conn := dialWebsocket(t, srv.URL)
	require.Eventually(t, func() bool {
		clients, _ := reg.Counts()
		return clients == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, readErr := conn.ReadMessage()
	assert.Error(t, readErr, "shutdown must terminate the hijacked connection")
	require.Eventually(t, func() bool {
		clients, _ := reg.Counts()
		return clients == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectsOverLimit(t *testing.T) {
	reg := registry.New(
		registry.WithKeys(auth.NewKeySet([]string{testKey}, nil)),
		registry.WithMaxClients(1))
	ws := NewWebsocketServer("", reg, nil)
	srv := httptest.NewServer(upgradeHandler(context.Background(), ws))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { first.Close() })
	require.Eventually(t, func() bool {
		clients, _ := reg.Counts()
		return clients == 1
	}, 2*time.Second, 10*time.Millisecond)

	second, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		if resp != nil {
			resp.Body.Close()
		}
		// the upgrade may succeed before the server closes the socket;
		// the next read observes the rejection
		_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, readErr := second.ReadMessage()
		assert.Error(t, readErr)
		second.Close()
	}
	clients, _ := reg.Counts()
	assert.Equal(t, 1, clients)
}
