package socketcan

import (
	"context"
	"errors"
	"time"

	"github.com/kstaniek/go-mcp2515/internal/can"
	"github.com/kstaniek/go-mcp2515/internal/logging"
	"github.com/kstaniek/go-mcp2515/internal/metrics"
	"github.com/kstaniek/go-mcp2515/internal/txqueue"
)

const readTimeout = 200 * time.Millisecond

// ErrTimeout is returned by ReadFrame when no frame arrived in time.
var ErrTimeout = errors.New("socketcan: read timeout")

// Dev is a CAN interface; *Device in production, fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// Mirror copies controller traffic onto a SocketCAN interface through a
// write queue and feeds frames written by other programs back to inject.
type Mirror struct {
	dev Dev
	out *txqueue.Queue
}

// NewMirror starts the write worker with a queue of depth frames.
func NewMirror(ctx context.Context, dev Dev, depth int) *Mirror {
	send := func(f *can.Frame) error { return dev.WriteFrame(*f) }
	out := txqueue.New(ctx, depth, send, txqueue.Hooks{
		OnSent:  func(can.Frame) { metrics.IncSocketCANTx() },
		OnError: func(_ can.Frame, err error) { metrics.IncError(metrics.ErrSocketCANWrite) },
		OnDrop:  func(can.Frame) { metrics.IncError(metrics.ErrSocketCANOver) },
	})
	return &Mirror{dev: dev, out: out}
}

// Publish queues f for the interface; a full queue drops it.
func (m *Mirror) Publish(f can.Frame) error { return m.out.Enqueue(f) }

// Run reads the interface until ctx is done and hands every frame to
// inject. Read errors other than timeouts end the loop.
func (m *Mirror) Run(ctx context.Context, inject func(can.Frame) error) error {
	var f can.Frame
	for ctx.Err() == nil {
		err := m.dev.ReadFrame(&f)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			return err
		}
		metrics.IncSocketCANRx()
		if err := inject(f); err != nil {
			logging.L().Debug("socketcan_inject_failed", "error", err, "frame", f.String())
		}
	}
	return nil
}

// Close stops the write worker and closes the interface.
func (m *Mirror) Close() error {
	m.out.Close()
	return m.dev.Close()
}
