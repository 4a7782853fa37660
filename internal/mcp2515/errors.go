package mcp2515

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the driver. Callers classify with errors.Is;
// Code maps them to numeric result codes.
var (
	ErrFail             = errors.New("mcp2515: operation failed")
	ErrAllTxBusy        = errors.New("mcp2515: all transmit buffers busy")
	ErrNoMessage        = errors.New("mcp2515: no message pending")
	ErrSetModeFail      = errors.New("mcp2515: mode change not confirmed")
	ErrInvalidInterrupt = errors.New("mcp2515: pin has no interrupt vector")
	ErrNoInterruptSlots = errors.New("mcp2515: no interrupt slots available")
	// ErrTransport wraps failures reported by the SPI or GPIO collaborators.
	ErrTransport = errors.New("mcp2515: transport")
)

// Result is the numeric outcome of a driver operation.
type Result uint8

const (
	OK Result = iota
	Fail
	AllTxBusy
	NoMessage
	SetModeFail
	InvalidInterrupt
	NoInterruptSlots
)

var resultNames = [...]string{
	OK:               "ok",
	Fail:             "fail",
	AllTxBusy:        "all_tx_busy",
	NoMessage:        "no_rx_msg",
	SetModeFail:      "set_mode_fail",
	InvalidInterrupt: "invalid_int",
	NoInterruptSlots: "no_avail_ints",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Code maps an error returned by the driver to its result code.
// Unknown errors, transport errors included, map to Fail.
func Code(err error) Result {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrAllTxBusy):
		return AllTxBusy
	case errors.Is(err, ErrNoMessage):
		return NoMessage
	case errors.Is(err, ErrSetModeFail):
		return SetModeFail
	case errors.Is(err, ErrInvalidInterrupt):
		return InvalidInterrupt
	case errors.Is(err, ErrNoInterruptSlots):
		return NoInterruptSlots
	default:
		return Fail
	}
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
