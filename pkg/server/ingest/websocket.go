// Package ingest implements the websocket and udp listeners feeding
// the session registry. The HTTP ingest endpoints live with the query
// API on the shared HTTP listener.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/server/registry"
	"github.com/racepulse/telemetry-relay-go/pkg/wire"
)

const (
	readLimit       = 1 << 20 // 1MB per frame
	shutdownTimeout = 3 * time.Second
)

// WebsocketServer accepts producer connections and runs one receive
// loop per connection, so a stalled client never blocks the others.
type WebsocketServer struct {
	addr     string
	reg      *registry.Registry
	logger   *log.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewWebsocketServer(addr string, reg *registry.Registry, logger *log.Logger) *WebsocketServer {
	if logger == nil {
		logger = log.Default().Named("ws")
	}
	return &WebsocketServer{
		addr:   addr,
		reg:    reg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// producers are machines, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run blocks serving connections until ctx is canceled.
func (s *WebsocketServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(ctx, w, r)
	})
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket listener started", log.String("addr", s.addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *WebsocketServer) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.ErrorField(err))
		return
	}

	client, ok := s.reg.Register("websocket", r.RemoteAddr, func() { conn.Close() })
	if !ok {
		conn.Close()
		return
	}
	// the http server runs each handler in its own goroutine; the
	// receive loop owns the connection from here on
	s.receiveLoop(ctx, conn, client)
}

// receiveLoop reads frames until the connection dies. Malformed frames
// are logged and skipped; the connection stays open.
func (s *WebsocketServer) receiveLoop(ctx context.Context,
	conn *websocket.Conn, client *registry.ClientConnection,
) {
	defer func() {
		s.reg.Unregister(client.ID)
		conn.Close()
	}()
	conn.SetReadLimit(readLimit)

	// Shutdown does not reach hijacked connections; closing the conn
	// here unblocks ReadMessage when the listener context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended",
					log.String("connId", client.ID), log.ErrorField(err))
			}
			return
		}
		msg, err := wire.Decode(payload, msgType == websocket.BinaryMessage)
		if err != nil {
			s.logger.Warn("malformed frame dropped",
				log.String("connId", client.ID), log.ErrorField(err))
			continue
		}
		s.reg.Dispatch(ctx, client, msg)
	}
}
