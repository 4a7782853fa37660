package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// startReader decodes client frames and forwards them to Send. A decode
// error other than a read timeout closes the connection and the client.
func (s *Server) startReader(done <-chan struct{}, conn net.Conn, cl *hub.Client, log *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			cl.Close()
		}()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := s.codec.DecodeN(conn, decodeBurst, func(fr can.Frame) { s.forward(fr, log) })
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				s.fail(wrap)
				log.Warn("client_read_error", "error", wrap)
				return
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()
}

func (s *Server) forward(fr can.Frame, log *slog.Logger) {
	if s.frameFilter != nil && !s.frameFilter(&fr) {
		return
	}
	metrics.IncTCPRx()
	if s.Send == nil {
		return
	}
	err := s.Send(fr)
	switch {
	case err == nil:
	case s.isOverflow(err):
		s.backendOverflow.Add(1)
		log.Debug("backend_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
	default:
		wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
		s.backendErrors.Add(1)
		s.fail(wrap)
		log.Error("backend_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.CANID))
	}
}
