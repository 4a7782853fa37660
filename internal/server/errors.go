package server

import (
	"errors"

	"github.com/kstaniek/go-mcp2515/internal/metrics"
)

var (
	ErrListen    = errors.New("server: listen")
	ErrAccept    = errors.New("server: accept")
	ErrHandshake = errors.New("server: handshake")
	ErrConnRead  = errors.New("server: connection read")
	ErrConnWrite = errors.New("server: connection write")
	// ErrBackendTx wraps failures of the SendFunc other than overflow.
	ErrBackendTx = errors.New("server: backend transmit")
	ErrContext   = errors.New("server: context done")
)

// errLabels is checked in order; the first sentinel err wraps wins.
var errLabels = []struct {
	err   error
	label string
}{
	{ErrConnRead, metrics.ErrTCPRead},
	{ErrAccept, metrics.ErrTCPRead},
	{ErrListen, metrics.ErrTCPRead},
	{ErrConnWrite, metrics.ErrTCPWrite},
	{ErrHandshake, metrics.ErrHandshake},
	{ErrBackendTx, metrics.ErrControllerTx},
	{ErrContext, "context"},
}

// mapErrToMetric returns the errors_total label for err.
func mapErrToMetric(err error) string {
	for _, e := range errLabels {
		if errors.Is(err, e.err) {
			return e.label
		}
	}
	return "other"
}
