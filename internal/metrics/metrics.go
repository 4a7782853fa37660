// Package metrics exposes controller and gateway counters to Prometheus and
// keeps an in-process copy of each one so the command can log snapshots
// without scraping itself.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	nsController = "mcp2515"
	nsGateway    = "gateway"
)

// Error labels. The set is closed so the errors_total series stay bounded.
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrControllerTx   = "mcp2515_tx"
	ErrControllerRx   = "mcp2515_rx"
	ErrControllerMode = "mcp2515_mode"
	ErrTxOverflow     = "mcp2515_tx_overflow"
	ErrSPI            = "spi"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrControllerTx, ErrControllerRx, ErrControllerMode, ErrTxOverflow, ErrSPI,
	ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
}

// counter pairs a Prometheus counter with its local mirror.
type counter struct {
	c prometheus.Counter
	n atomic.Uint64
}

func newCounter(ns, sub, name, help string) *counter {
	return &counter{c: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: name, Help: help,
	})}
}

func (c *counter) add(n uint64) {
	c.c.Add(float64(n))
	c.n.Add(n)
}

// gauge pairs a Prometheus gauge with its local mirror.
type gauge struct {
	g prometheus.Gauge
	v atomic.Uint64
}

func newGauge(ns, sub, name, help string) *gauge {
	return &gauge{g: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: name, Help: help,
	})}
}

func (g *gauge) set(v uint64) {
	g.g.Set(float64(v))
	g.v.Store(v)
}

var (
	ctrlRx       = newCounter(nsController, "", "rx_frames_total", "CAN frames drained from the controller receive buffers.")
	ctrlTx       = newCounter(nsController, "", "tx_frames_total", "CAN frames acknowledged on the bus.")
	ctrlTimeout  = newCounter(nsController, "", "tx_timeouts_total", "Transmissions withdrawn after the completion polling bound.")
	ctrlEviction = newCounter(nsController, "", "tx_evictions_total", "Transmissions that reused TXB0 because every buffer was pending.")
	ctrlOverflow = newCounter(nsController, "", "rx_overflows_total", "Receive buffer overflows reported in EFLG.")
	ctrlTEC      = newGauge(nsController, "", "tx_error_counter", "Transmit error counter (TEC).")
	ctrlREC      = newGauge(nsController, "", "rx_error_counter", "Receive error counter (REC).")
	ctrlBusState = newGauge(nsController, "", "bus_state", "Bus state: 0 active, 1 warning, 2 passive, 3 bus-off.")

	scRx = newCounter(nsGateway, "socketcan", "rx_frames_total", "CAN frames read from the mirror interface.")
	scTx = newCounter(nsGateway, "socketcan", "tx_frames_total", "CAN frames written to the mirror interface.")

	tcpRx     = newCounter(nsGateway, "tcp", "rx_frames_total", "CAN frames received from TCP clients.")
	tcpTx     = newCounter(nsGateway, "tcp", "tx_frames_total", "CAN frames written to TCP clients.")
	malformed = newCounter(nsGateway, "tcp", "malformed_frames_total", "Frames rejected for invalid length or truncation.")

	hubDrop    = newCounter(nsGateway, "hub", "dropped_frames_total", "Frames not queued for a slow client.")
	hubKick    = newCounter(nsGateway, "hub", "kicked_clients_total", "Clients disconnected by the kick policy.")
	hubReject  = newCounter(nsGateway, "hub", "rejected_clients_total", "Connections refused at the client limit.")
	hubClients = newGauge(nsGateway, "hub", "active_clients", "Connected clients.")
	hubFanout  = newGauge(nsGateway, "hub", "broadcast_fanout", "Clients reached by the latest broadcast.")

	errorsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: nsGateway, Name: "errors_total", Help: "Errors by subsystem.",
	}, []string{"where"})
	errorsTotal atomic.Uint64

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: nsGateway, Name: "build_info", Help: "Build metadata; the value is always 1.",
	}, []string{"version", "commit", "date"})
)

func IncControllerRx()       { ctrlRx.add(1) }
func IncControllerTx()       { ctrlTx.add(1) }
func IncControllerTimeout()  { ctrlTimeout.add(1) }
func IncControllerEviction() { ctrlEviction.add(1) }
func IncControllerOverflow() { ctrlOverflow.add(1) }

// SetControllerErrors publishes TEC, REC and the bus state derived from EFLG.
func SetControllerErrors(tec, rec uint8, state int) {
	ctrlTEC.set(uint64(tec))
	ctrlREC.set(uint64(rec))
	ctrlBusState.set(uint64(max(state, 0)))
}

func IncSocketCANRx() { scRx.add(1) }
func IncSocketCANTx() { scTx.add(1) }
func IncTCPRx()       { tcpRx.add(1) }

// AddTCPTx counts n frames flushed to one client.
func AddTCPTx(n int) {
	if n > 0 {
		tcpTx.add(uint64(n))
	}
}

func IncMalformed()            { malformed.add(1) }
func IncHubDrop()              { hubDrop.add(1) }
func IncHubKick()              { hubKick.add(1) }
func IncHubReject()            { hubReject.add(1) }
func SetHubClients(n int)      { hubClients.set(uint64(max(n, 0))) }
func SetBroadcastFanout(n int) { hubFanout.set(uint64(max(n, 0))) }

// IncError counts one error under label, one of the Err* constants.
func IncError(label string) {
	errorsVec.WithLabelValues(label).Inc()
	errorsTotal.Add(1)
}

// InitBuildInfo publishes build metadata and creates every error series at
// zero so rate() works from the first scrape.
func InitBuildInfo(version, commit, date string) {
	buildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, l := range errorLabels {
		errorsVec.WithLabelValues(l).Add(0)
	}
}

// Snapshot is a copy of the local mirrors.
type Snapshot struct {
	ControllerRx        uint64
	ControllerTx        uint64
	ControllerTimeouts  uint64
	ControllerEvictions uint64
	ControllerOverflows uint64
	TEC                 uint64
	REC                 uint64
	SocketCANRx         uint64
	SocketCANTx         uint64
	TCPRx               uint64
	TCPTx               uint64
	HubDrops            uint64
	HubKicks            uint64
	HubRejects          uint64
	Errors              uint64 // all labels
	HubClients          uint64
	Fanout              uint64
	Malformed           uint64
}

func Snap() Snapshot {
	return Snapshot{
		ControllerRx:        ctrlRx.n.Load(),
		ControllerTx:        ctrlTx.n.Load(),
		ControllerTimeouts:  ctrlTimeout.n.Load(),
		ControllerEvictions: ctrlEviction.n.Load(),
		ControllerOverflows: ctrlOverflow.n.Load(),
		TEC:                 ctrlTEC.v.Load(),
		REC:                 ctrlREC.v.Load(),
		SocketCANRx:         scRx.n.Load(),
		SocketCANTx:         scTx.n.Load(),
		TCPRx:               tcpRx.n.Load(),
		TCPTx:               tcpTx.n.Load(),
		HubDrops:            hubDrop.n.Load(),
		HubKicks:            hubKick.n.Load(),
		HubRejects:          hubReject.n.Load(),
		Errors:              errorsTotal.Load(),
		HubClients:          hubClients.v.Load(),
		Fanout:              hubFanout.v.Load(),
		Malformed:           malformed.n.Load(),
	}
}
