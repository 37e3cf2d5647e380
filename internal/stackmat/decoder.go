package stackmat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/metrics"
)

const (
	// FrameTimeout bounds the wait for the next byte of a frame.
	FrameTimeout = 1000 * time.Millisecond

	// ConnectedWindow is how recent the last good frame must be for the
	// timer to count as connected.
	ConnectedWindow = 1000 * time.Millisecond

	// MaxFrameLen caps a frame on a stream that never sends a terminator.
	MaxFrameLen = 32

	defaultIdleWait = 10 * time.Millisecond
)

var (
	// ErrFrameTimeout is returned when no terminator arrives in time.
	ErrFrameTimeout = errors.New("stackmat: frame timeout")

	// ErrFrameOverflow is returned when a frame exceeds MaxFrameLen.
	ErrFrameOverflow = errors.New("stackmat: frame too long")
)

// Reading is the decoded timer state.
type Reading struct {
	State   State
	Millis  int64
	Updated time.Time
}

// Connected reports whether the reading is recent enough at now.
func (r Reading) Connected(now time.Time) bool {
	return !r.Updated.IsZero() && now.Sub(r.Updated) < ConnectedWindow
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithClock replaces the clock and the wait used when the source has no data.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(d *Decoder) {
		d.now = now
		d.sleep = sleep
	}
}

// WithLogger sets the decoder logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// Decoder reads frames from a byte source and keeps the last good reading.
// ReadFrame and Poll must be called from one goroutine; Last and Connected
// are safe from any goroutine.
type Decoder struct {
	src   io.Reader
	now   func() time.Time
	sleep func(time.Duration)
	log   zerolog.Logger
	buf   [1]byte

	mu   sync.RWMutex
	last Reading
}

// NewDecoder creates a decoder reading from src. A Read that returns no bytes
// and no error means no data is available yet.
func NewDecoder(src io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		src:   src,
		now:   time.Now,
		sleep: time.Sleep,
		log:   zerolog.Nop(),
		last:  Reading{State: Reset},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ReadFrame accumulates bytes until NUL or CR. It gives up with
// ErrFrameTimeout once FrameTimeout passes without a byte, so it never
// blocks much longer than that.
func (d *Decoder) ReadFrame() (string, error) {
	var frame []byte
	lastByte := d.now()

	for {
		if d.now().Sub(lastByte) >= FrameTimeout {
			return "", ErrFrameTimeout
		}

		n, err := d.src.Read(d.buf[:])
		if n == 1 {
			c := d.buf[0]
			if c == 0 || c == '\r' {
				return string(frame), nil
			}
			if len(frame) >= MaxFrameLen {
				return "", ErrFrameOverflow
			}
			frame = append(frame, c)
			lastByte = d.now()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("stackmat: read: %w", err)
		}
		if n == 0 {
			d.sleep(defaultIdleWait)
		}
	}
}

// Poll reads one frame and, if it decodes, records it as the latest reading.
// Timeouts and bad frames return false with a nil error; only source errors
// (including io.EOF) are returned.
func (d *Decoder) Poll() (Reading, bool, error) {
	frame, err := d.ReadFrame()
	switch {
	case errors.Is(err, ErrFrameTimeout):
		metrics.RecordFrame("timeout")
		return Reading{}, false, nil
	case errors.Is(err, ErrFrameOverflow):
		metrics.RecordFrame("overflow")
		return Reading{}, false, nil
	case err != nil:
		return Reading{}, false, err
	}

	state, ms, ok := Parse(frame)
	if !ok {
		if len(frame) < minFrameLen {
			metrics.RecordFrame("short")
		} else {
			metrics.RecordFrame("checksum")
		}
		d.log.Trace().Str("frame", frame).Msg("frame rejected")
		return Reading{}, false, nil
	}
	metrics.RecordFrame("accepted")

	r := Reading{State: state, Millis: ms, Updated: d.now()}
	d.mu.Lock()
	d.last = r
	d.mu.Unlock()
	return r, true, nil
}

// Last returns the most recent good reading.
func (d *Decoder) Last() Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Connected reports whether a good frame arrived within ConnectedWindow of now.
func (d *Decoder) Connected(now time.Time) bool {
	return d.Last().Connected(now)
}

// Run polls until ctx is cancelled or the source fails, passing every good
// reading to fn. It returns nil on cancellation and on io.EOF.
func (d *Decoder) Run(ctx context.Context, fn func(Reading)) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		r, ok, err := d.Poll()
		if errors.Is(err, io.EOF) {
			d.log.Info().Msg("timer stream closed")
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			fn(r)
		}
	}
}
