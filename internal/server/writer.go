package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/hub"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

// startWriter batches hub frames for one client and flushes when the batch
// is full or the flush interval elapses.
func (s *Server) startWriter(done <-chan struct{}, conn net.Conn, cl *hub.Client, log *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.unregister(cl)
			s.disconnected.Add(1)
			log.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			n := len(batch)
			_, err := s.codec.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				s.fail(fmt.Errorf("%w: %v", ErrConnWrite, err))
				return false
			}
			metrics.AddTCPTx(n)
			return true
		}
		for {
			select {
			case fr := <-cl.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize && !flush() {
					return
				}
			case <-t.C:
				if !flush() {
					return
				}
			case <-cl.Closed:
				flush()
				return
			case <-done:
				flush()
				return
			}
		}
	}()
}
