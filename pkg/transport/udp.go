package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/wire"
)

// udpTransport sends each envelope as one self-contained datagram.
// There is no session on the wire; every datagram carries the API key.
type udpTransport struct {
	opts Options
	mu   sync.Mutex
	conn *net.UDPConn
}

func newUDPTransport(opts Options) *udpTransport {
	return &udpTransport{opts: opts}
}

func (t *udpTransport) Connect(ctx context.Context) error {
	addr := strings.TrimPrefix(t.opts.URL, "udp://")
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp addr %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("udp dial %s: %w", addr, err)
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *udpTransport) Send(msg *model.Message) error {
	payload, err := wire.Encode(msg, t.opts.Compress)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("udp not connected")
	}
	if _, err := t.conn.Write(payload); err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

func (t *udpTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
