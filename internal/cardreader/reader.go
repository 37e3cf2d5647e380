// Package cardreader reads competitor and judge card ids from a
// keyboard-wedge RFID reader, which types one id per line.
package cardreader

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ScanGap is the minimum time between two accepted scans. A card held on
// the reader repeats its id; the gap keeps that to one scan.
const ScanGap = 500 * time.Millisecond

// ErrBadCardID is returned for lines that are not a card id.
var ErrBadCardID = errors.New("cardreader: bad card id")

// Encoding is how a reader types card ids. A line of digits is valid in
// both encodings, so the reader's encoding is fixed by configuration.
type Encoding int

const (
	// Decimal readers type the id in base 10.
	Decimal Encoding = iota
	// HexUID readers type the 4-byte UID in hex ("DE:AD:BE:EF" or
	// "DEADBEEF"), first byte lowest.
	HexUID
)

// ParseEncoding maps a configuration value to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "decimal":
		return Decimal, nil
	case "hex", "uid":
		return HexUID, nil
	}
	return Decimal, fmt.Errorf("cardreader: unknown encoding %q", s)
}

func (e Encoding) String() string {
	if e == HexUID {
		return "hex"
	}
	return "decimal"
}

// ParseCardID decodes one reader line in the given encoding.
func ParseCardID(s string, enc Encoding) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadCardID)
	}

	var id uint64
	switch enc {
	case HexUID:
		raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
		if err != nil || len(raw) != 4 {
			return 0, fmt.Errorf("%w: %q is not a 4-byte hex UID", ErrBadCardID, s)
		}
		id = uint64(binary.LittleEndian.Uint32(raw))
	default:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a decimal id", ErrBadCardID, s)
		}
		id = v
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: zero", ErrBadCardID)
	}
	return id, nil
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock sets the clock the scan gap is measured on.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithEncoding sets how the reader types card ids. The default is Decimal.
func WithEncoding(enc Encoding) Option {
	return func(r *Reader) { r.enc = enc }
}

// WithLogger sets the reader logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// Reader turns lines from a card reader device into card ids.
type Reader struct {
	src io.Reader
	lim *rate.Limiter
	enc Encoding
	now func() time.Time
	log zerolog.Logger
}

// NewReader reads card ids from src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		src: src,
		lim: rate.NewLimiter(rate.Every(ScanGap), 1),
		now: time.Now,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accept reports whether a scan at the current time is outside the scan gap
// and, if so, starts a new gap.
func (r *Reader) Accept() bool {
	return r.lim.AllowN(r.now(), 1)
}

// Run calls fn for every accepted card until src is exhausted or ctx is
// cancelled. Unparseable lines are logged and skipped. Closing src is the
// way to unblock a pending read.
func (r *Reader) Run(ctx context.Context, fn func(cardID uint64)) error {
	sc := bufio.NewScanner(r.src)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, err := ParseCardID(line, r.enc)
		if err != nil {
			r.log.Warn().Err(err).Msg("ignoring card reader input")
			continue
		}
		if !r.Accept() {
			r.log.Debug().Uint64("card_id", id).Msg("scan inside gap, dropped")
			continue
		}
		fn(id)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("read card reader: %w", err)
	}
	return nil
}
