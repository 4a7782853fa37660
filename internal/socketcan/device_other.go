//go:build !linux

package socketcan

import "errors"

// ErrUnsupported is returned by Open outside Linux.
var ErrUnsupported = errors.New("socketcan: only available on linux")

// Open always fails outside Linux.
func Open(string) (Dev, error) { return nil, ErrUnsupported }
