// Package buttons turns raw pin levels into ordered, time-gated callbacks:
// press, hold tiers, release, recurring-while-held and multi-pin combos.
//
// The engine is poll driven. A call to Poll services at most one button and
// blocks for as long as that button is held, which is how hold tiers get
// their timing. Callbacks run on the polling goroutine.
package buttons

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCheckInterval is the sleep between hold-loop iterations.
const DefaultCheckInterval = 15 * time.Millisecond

// ErrNoButton is returned by TestPress when no button has the requested pin set.
var ErrNoButton = errors.New("buttons: no button with that pin set")

// PinReader reports pin levels. Implemented once per target platform.
type PinReader interface {
	Active(pin int) (bool, error)
}

// ID is a stable handle for a registered button. Registering more buttons,
// including combos, never changes an ID already handed out.
type ID int

// Button is one logical control mapped to one or more pins.
type Button struct {
	// SuppressRelease cancels every release-only callback of the current
	// press cycle. Callbacks set it on the button they receive. It is
	// cleared when the next press of this button starts.
	SuppressRelease bool

	id           ID
	pins         []int
	onActivate   func(*Button)
	onDeactivate func(*Button)
	callbacks    []callback
}

// ID returns the button's handle.
func (b *Button) ID() ID { return b.id }

// Pins returns a copy of the button's pin set.
func (b *Button) Pins() []int { return slices.Clone(b.pins) }

type callback struct {
	threshold time.Duration
	release   bool
	fired     bool
	lastRun   time.Duration
	fn        func(*Button)
	recurring func(held time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock and sleep used by the hold loop.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(e *Engine) {
		e.now = now
		e.sleep = sleep
	}
}

// WithCheckInterval sets the hold-loop sleep.
func WithCheckInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine dispatches button callbacks. Poll and TestPress are serialized;
// callbacks must not call back into the Engine.
type Engine struct {
	mu       sync.Mutex
	pins     PinReader
	buttons  []*Button // registration order, indexed by ID
	order    []*Button // evaluation order: descending pin count
	now      func() time.Time
	sleep    func(time.Duration)
	interval time.Duration
	log      zerolog.Logger
}

// NewEngine creates an engine reading pin levels from pins.
func NewEngine(pins PinReader, opts ...Option) *Engine {
	e := &Engine{
		pins:     pins,
		now:      time.Now,
		sleep:    time.Sleep,
		interval: DefaultCheckInterval,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddButton registers a button on pins. A single pin is a simple button,
// several pins form a combo that needs all of them active to trigger.
// onActivate runs when a press starts, onDeactivate after release; both may
// be nil.
func (e *Engine) AddButton(pins []int, onActivate, onDeactivate func(*Button)) ID {
	if len(pins) == 0 {
		panic("buttons: AddButton with empty pin set")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b := &Button{
		id:           ID(len(e.buttons)),
		pins:         slices.Clone(pins),
		onActivate:   onActivate,
		onDeactivate: onDeactivate,
	}
	e.buttons = append(e.buttons, b)
	e.order = append(e.order, b)
	// Wider combos first so they win over the narrower buttons they contain.
	sort.SliceStable(e.order, func(i, j int) bool {
		return len(e.order[i].pins) > len(e.order[j].pins)
	})
	return b.id
}

// AddCallback registers fn to run once per press cycle when the hold time
// reaches threshold. Release-only callbacks run on release instead, if the
// button was held at least threshold and the cycle was not suppressed.
func (e *Engine) AddCallback(id ID, threshold time.Duration, releaseOnly bool, fn func(*Button)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.button(id)
	b.callbacks = append(b.callbacks, callback{threshold: threshold, release: releaseOnly, fn: fn})
	sortCallbacks(b.callbacks)
}

// AddRecurringCallback registers fn to run every interval while the button
// is held. fn receives the hold time so far.
func (e *Engine) AddRecurringCallback(id ID, interval time.Duration, fn func(held time.Duration)) {
	if interval <= 0 {
		panic("buttons: recurring callback needs a positive interval")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.button(id)
	b.callbacks = append(b.callbacks, callback{threshold: interval, recurring: fn})
	sortCallbacks(b.callbacks)
}

// Button returns the registered button for id.
func (e *Engine) Button(id ID) *Button {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.button(id)
}

func (e *Engine) button(id ID) *Button {
	if id < 0 || int(id) >= len(e.buttons) {
		panic(fmt.Sprintf("buttons: unknown button id %d", id))
	}
	return e.buttons[id]
}

func sortCallbacks(cbs []callback) {
	sort.Slice(cbs, func(i, j int) bool { return cbs[i].threshold < cbs[j].threshold })
}

// Poll services the first pressed button in evaluation order and returns
// its ID once it has been released. It returns false when nothing is pressed.
//
// A press needs every pin of the button active; the hold continues while
// any of its pins stays active.
func (e *Engine) Poll() (ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, b := range e.order {
		if !e.allActive(b.pins) {
			continue
		}
		e.log.Debug().Int("button", int(b.id)).Ints("pins", b.pins).Msg("press")
		held := e.runCycle(b, func(time.Duration) bool { return e.anyActive(b.pins) })
		e.log.Debug().Int("button", int(b.id)).Dur("held", held).Msg("release")
		return b.id, true
	}
	return 0, false
}

// TestPress simulates holding the button whose pin set equals pins (in any
// order) for d, through the same dispatch path as a physical press.
func (e *Engine) TestPress(pins []int, d time.Duration) (ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	want := slices.Clone(pins)
	slices.Sort(want)
	for _, b := range e.order {
		have := slices.Clone(b.pins)
		slices.Sort(have)
		if !slices.Equal(have, want) {
			continue
		}
		e.log.Debug().Int("button", int(b.id)).Dur("duration", d).Msg("test press")
		e.runCycle(b, func(elapsed time.Duration) bool { return elapsed < d })
		return b.id, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrNoButton, pins)
}

// runCycle runs one full press cycle of b and returns the hold time.
func (e *Engine) runCycle(b *Button, held func(elapsed time.Duration) bool) time.Duration {
	start := e.now()
	b.SuppressRelease = false
	for i := range b.callbacks {
		b.callbacks[i].fired = false
		b.callbacks[i].lastRun = 0
	}
	if b.onActivate != nil {
		b.onActivate(b)
	}

	for {
		elapsed := e.now().Sub(start)
		if !held(elapsed) {
			break
		}
		e.dispatchHold(b, elapsed)
		e.sleep(e.interval)
	}

	elapsed := e.now().Sub(start)
	e.dispatchRelease(b, elapsed)
	for i := range b.callbacks {
		b.callbacks[i].fired = false
	}
	if b.onDeactivate != nil {
		b.onDeactivate(b)
	}
	return elapsed
}

func (e *Engine) dispatchHold(b *Button, elapsed time.Duration) {
	for i := range b.callbacks {
		cb := &b.callbacks[i]
		if cb.threshold > elapsed {
			break
		}
		switch {
		case cb.release:
			continue
		case cb.recurring != nil:
			if elapsed-cb.lastRun < cb.threshold {
				continue
			}
			cb.lastRun = elapsed
			cb.recurring(elapsed)
		case !cb.fired:
			cb.fired = true
			cb.fn(b)
		}
	}
}

func (e *Engine) dispatchRelease(b *Button, elapsed time.Duration) {
	if b.SuppressRelease {
		e.log.Debug().Int("button", int(b.id)).Msg("release callbacks suppressed")
		return
	}
	for i := range b.callbacks {
		cb := &b.callbacks[i]
		if cb.threshold > elapsed {
			break
		}
		if !cb.release {
			continue
		}
		cb.fn(b)
	}
}

func (e *Engine) allActive(pins []int) bool {
	for _, p := range pins {
		if !e.active(p) {
			return false
		}
	}
	return true
}

func (e *Engine) anyActive(pins []int) bool {
	for _, p := range pins {
		if e.active(p) {
			return true
		}
	}
	return false
}

func (e *Engine) active(pin int) bool {
	on, err := e.pins.Active(pin)
	if err != nil {
		e.log.Warn().Err(err).Int("pin", pin).Msg("pin read failed")
		return false
	}
	return on
}
