package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortFactory opens serial ports. Binaries use RealPortFactory;
// tests inject MockSerialPortFactory.
type SerialPortFactory interface {
	// Open opens the serial port at path with the given options.
	Open(path string, opts PortOptions) (SerialPorter, error)
}
