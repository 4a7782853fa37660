package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Hello is exchanged by both peers before any frame.
const Hello = "CANNELLONIv1"

// ErrBadHello means the peer sent something other than Hello.
var ErrBadHello = errors.New("cannelloni: bad hello")

// Handshake writes Hello and reads the peer's concurrently, so both sides
// may call it at once over an unbuffered pipe.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = c.SetDeadline(time.Time{}) }()

	errc := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, Hello)
		errc <- err
	}()
	go func() {
		var buf [len(Hello)]byte
		_, err := io.ReadFull(c, buf[:])
		if err == nil && string(buf[:]) != Hello {
			err = fmt.Errorf("%w: %q", ErrBadHello, buf[:])
		}
		errc <- err
	}()
	for range 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
