//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: button pins need the Linux GPIO character device")

// RealReader lets the terminal build off Linux; it never reads a pin.
type RealReader struct{}

// NewRealReader always fails off Linux.
func NewRealReader(chipName string, pins []int) (*RealReader, error) {
	return nil, errUnsupported
}

func (r *RealReader) Active(pin int) (bool, error) {
	return false, errUnsupported
}

func (r *RealReader) Close() error {
	return nil
}
