package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/wire"
)

// websocketTransport sends envelopes as websocket frames: text frames
// carry raw JSON, binary frames deflate compressed JSON.
type websocketTransport struct {
	opts Options
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWebsocketTransport(opts Options) *websocketTransport {
	return &websocketTransport{opts: opts}
}

func (t *websocketTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.opts.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.opts.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *websocketTransport) Send(msg *model.Message) error {
	payload, err := wire.Encode(msg, t.opts.Compress)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if t.opts.Compress {
		msgType = websocket.BinaryMessage
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	if err := t.conn.WriteMessage(msgType, payload); err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *websocketTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
