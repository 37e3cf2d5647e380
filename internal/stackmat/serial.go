package stackmat

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// BaudRate is the stackmat line speed.
const BaudRate = 1200

// serialReadTimeout makes Read return (0, nil) when the line is idle so the
// decoder can track its frame timeout.
const serialReadTimeout = 100 * time.Millisecond

// OpenSerial opens the timer port at 1200 baud 8N1.
func OpenSerial(name string) (io.ReadCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open timer port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return port, nil
}
