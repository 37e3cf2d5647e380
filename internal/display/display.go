// Package display implements the two-line character display contract:
// requests carry a line, an alignment and text; Buffer lays them out on a
// 16x2 grid and scrolls lines that do not fit.
package display

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	Width  = 16
	Height = 2

	// MaxScrollLen caps text kept for a scrolling line.
	MaxScrollLen = 64

	// ScrollStep is the time between scroll positions.
	ScrollStep = 500 * time.Millisecond
)

// Align positions text on a line.
type Align int

const (
	Left Align = iota
	Center
	Right
	// Append continues after the last text written.
	Append
)

// Request is one formatted write to a display line.
type Request struct {
	Line  int
	Fill  bool // blank the rest of the line
	Align Align
	Text  string
}

// Printf builds a Request with formatted text.
func Printf(line int, fill bool, align Align, format string, args ...any) Request {
	return Request{Line: line, Fill: fill, Align: align, Text: fmt.Sprintf(format, args...)}
}

type scroller struct {
	line    int
	text    []rune
	pos     int
	forward bool
	last    time.Time
}

// Buffer is a 16x2 character grid.
type Buffer struct {
	mu      sync.Mutex
	cells   [Height][Width]rune
	cursor  int
	scroll  *scroller
	version uint64
}

// NewBuffer returns a blank buffer.
func NewBuffer() *Buffer {
	b := &Buffer{}
	b.clear()
	return b
}

func (b *Buffer) clear() {
	for y := range b.cells {
		for x := range b.cells[y] {
			b.cells[y][x] = ' '
		}
	}
	b.cursor = 0
	b.scroll = nil
}

// Clear blanks both lines.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clear()
	b.version++
}

// Apply renders req. Text wider than the display starts scrolling on that
// line. A line outside the display is a wiring mistake and panics.
func (b *Buffer) Apply(req Request) {
	if req.Line < 0 || req.Line >= Height {
		panic(fmt.Sprintf("display: line %d out of range", req.Line))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.scroll != nil && b.scroll.line == req.Line {
		b.scroll = nil
	}
	text := []rune(req.Text)
	if len(text) > Width {
		if len(text) > MaxScrollLen {
			text = text[:MaxScrollLen]
		}
		b.scroll = &scroller{line: req.Line, text: text, forward: true}
		b.print(req.Line, text[:Width], true, Left)
		return
	}
	b.print(req.Line, text, req.Fill, req.Align)
}

func (b *Buffer) print(y int, text []rune, fill bool, align Align) {
	var left int
	switch align {
	case Center:
		left = (Width - len(text)) / 2
	case Right:
		left = Width - len(text)
	case Append:
		left = b.cursor
	}
	if left < 0 {
		left = 0
	}

	line := &b.cells[y]
	for i := 0; i < Width; i++ {
		if fill && ((i < left && align != Append) || i >= left+len(text)) {
			line[i] = ' '
		}
	}
	n := min(len(text), Width-left)
	copy(line[left:], text[:n])

	b.cursor = min(left+n, Width)
	b.version++
}

// Tick advances a scrolling line once per ScrollStep, bouncing between the
// two ends of the text.
func (b *Buffer) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.scroll
	if s == nil || now.Sub(s.last) < ScrollStep {
		return
	}
	s.last = now

	maxPos := len(s.text) - Width
	switch {
	case s.pos <= 0:
		s.forward = true
	case s.pos >= maxPos:
		s.forward = false
	}
	if s.forward {
		s.pos++
	} else {
		s.pos--
	}
	b.print(s.line, s.text[s.pos:s.pos+Width], true, Left)
}

// Lines returns the current content of both lines.
func (b *Buffer) Lines() [Height]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [Height]string
	for y := range b.cells {
		out[y] = string(b.cells[y][:])
	}
	return out
}

// Version increases on every write, so callers can skip unchanged frames.
func (b *Buffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Logging is a display that writes each changed frame to a logger, for
// headless terminals and bench testing.
type Logging struct {
	log  zerolog.Logger
	last [Height]string
}

// NewLogging creates a logging display.
func NewLogging(l zerolog.Logger) *Logging {
	return &Logging{log: l}
}

// Show logs lines if they differ from the previous frame. It reports
// whether anything was logged.
func (d *Logging) Show(lines [Height]string) bool {
	if lines == d.last {
		return false
	}
	d.last = lines
	d.log.Info().
		Str("line0", strings.TrimRight(lines[0], " ")).
		Str("line1", strings.TrimRight(lines[1], " ")).
		Msg("display")
	return true
}
