// Package gpio provides button pin reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads button pin levels.
type Reader interface {
	// Active reports whether the button wired to pin is pressed.
	// Buttons are wired to ground with pull-ups: raw low = active.
	Active(pin int) (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Default button pins (BCM numbering).
const (
	DefaultPinPenalty    = 17
	DefaultPinSubmit     = 27
	DefaultPinDelegate   = 22
	DefaultPinInspection = 23
)
