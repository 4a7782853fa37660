//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-mcp2515/internal/can"
)

// Device is a raw CAN_RAW socket bound to one interface.
type Device struct {
	fd    int
	iface string
}

// Open binds a raw socket to iface with classic frames only. Reads time out
// after readTimeout so a reader loop can notice cancellation.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	fail := func(err error) (*Device, error) {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil && !errors.Is(err, unix.ENOPROTOOPT) {
		return fail(fmt.Errorf("disable CAN FD: %w", err))
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fail(fmt.Errorf("SO_RCVTIMEO: %w", err))
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return fail(fmt.Errorf("interface %q: %w", iface, err))
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		return fail(fmt.Errorf("bind(can@%s): %w", iface, err))
	}
	return &Device{fd: fd, iface: iface}, nil
}

func (d *Device) String() string { return d.iface }

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame blocks for one frame or until the read timeout, which is
// reported as ErrTimeout.
func (d *Device) ReadFrame(f *can.Frame) error {
	var buf [frameSize]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return ErrTimeout
		}
		return err
	}
	return unmarshal(buf[:n], f)
}

func (d *Device) WriteFrame(f can.Frame) error {
	var buf [frameSize]byte
	marshal(f, &buf)
	_, err := unix.Write(d.fd, buf[:])
	return err
}
