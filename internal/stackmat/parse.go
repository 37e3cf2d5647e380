// Package stackmat decodes the serial output of a stackmat speed-cube timer.
//
// The timer streams fixed frames at 1200 baud: a state byte, six time
// digits (m ss mmm), a checksum byte and a line terminator.
package stackmat

import "fmt"

// State is the timer state carried in byte 0 of a frame.
type State int

const (
	Unknown State = iota
	Reset
	Running
	Stopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Reset:
		return "Reset"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// minFrameLen covers the state byte, six digits and the checksum.
const minFrameLen = 8

func stateFromByte(c byte) State {
	switch c {
	case 'I':
		return Reset
	case ' ':
		return Running
	case 'S':
		return Stopped
	default:
		return Unknown
	}
}

// digit returns the decimal value of c; anything that is not a digit counts as 0.
func digit(c byte) int64 {
	if c < '0' || c > '9' {
		return 0
	}
	return int64(c - '0')
}

func field(s string) int64 {
	var v int64
	for i := 0; i < len(s); i++ {
		v = v*10 + digit(s[i])
	}
	return v
}

// Checksum returns the expected checksum byte for the first seven
// characters of a frame.
func Checksum(frame string) byte {
	sum := 64
	for i := 0; i < 7 && i < len(frame); i++ {
		sum += int(digit(frame[i]))
	}
	return byte(sum)
}

// Parse decodes a frame into a state and a time in milliseconds. It reports
// false for short frames and checksum mismatches.
//
// A Reset frame carrying a nonzero time is reported as Stopped: the timer
// sometimes sends a stale time with the reset indicator.
func Parse(frame string) (State, int64, bool) {
	if len(frame) < minFrameLen {
		return Unknown, 0, false
	}
	if Checksum(frame) != frame[7] {
		return Unknown, 0, false
	}

	state := stateFromByte(frame[0])
	minutes := field(frame[1:2])
	seconds := field(frame[2:4])
	millis := field(frame[4:7])
	total := minutes*60000 + seconds*1000 + millis

	if state == Reset && total > 0 {
		state = Stopped
	}
	return state, total, true
}

// FormatMillis renders a time the way the timer face shows it:
// "M:SS.mmm" from one minute up, "S.mmm" below.
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	rest := ms % 1000
	if minutes > 0 {
		return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, rest)
	}
	return fmt.Sprintf("%d.%03d", seconds, rest)
}
