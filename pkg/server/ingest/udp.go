package ingest

import (
	"context"
	"errors"
	"net"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/server/registry"
	"github.com/racepulse/telemetry-relay-go/pkg/wire"
)

const maxDatagramSize = 65507

// UDPServer receives self-contained authenticated datagrams. There is
// no per-peer state; every datagram is dispatched independently.
type UDPServer struct {
	addr   string
	reg    *registry.Registry
	logger *log.Logger
}

func NewUDPServer(addr string, reg *registry.Registry, logger *log.Logger) *UDPServer {
	if logger == nil {
		logger = log.Default().Named("udp")
	}
	return &UDPServer{addr: addr, reg: reg, logger: logger}
}

// Run blocks reading datagrams until ctx is canceled.
func (s *UDPServer) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.logger.Info("udp listener started", log.String("addr", s.addr))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("udp read", log.ErrorField(err))
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		msg, err := wire.DecodeAuto(payload)
		if err != nil {
			s.logger.Warn("malformed datagram dropped",
				log.String("remote", remote.String()), log.ErrorField(err))
			continue
		}
		s.reg.DispatchDatagram(ctx, remote.String(), msg)
	}
}
