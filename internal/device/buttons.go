package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/buttons"
	"github.com/sweeney/stackmat-terminal/internal/metrics"
)

// Hold thresholds of the button layout.
const (
	DNFHold             = time.Second
	ResetCompetitorHold = 5 * time.Second
	DelegateHold        = 3 * time.Second
	ResetSolveHold      = 10 * time.Second

	// delegateTick is how often the delegate countdown is refreshed.
	delegateTick = 100 * time.Millisecond

	// pressQueueLen bounds remote presses waiting for the button goroutine.
	pressQueueLen = 4
)

// ErrPressQueueFull is returned by QueuePress when remote presses arrive
// faster than the button goroutine runs them.
var ErrPressQueueFull = errors.New("device: press queue full")

type pressRequest struct {
	pins []int
	hold time.Duration
}

// layoutButtons registers the four buttons and the penalty+submit combo.
//
//	penalty     release: cycle +2..+16   hold 1s: toggle DNF
//	submit      release: confirm/dismiss hold 5s: reset competitor
//	inspection  release: start/stop inspection
//	delegate    hold 3s: call delegate, countdown while held
//	penalty+submit hold 10s: forget the solve without saving
func (t *Terminal) layoutButtons() {
	p := t.cfg.Pins

	penalty := t.addButton("penalty", []int{p.Penalty}, nil)
	t.engine.AddCallback(penalty, 0, true, func(*buttons.Button) { t.sess.CyclePenalty() })
	t.engine.AddCallback(penalty, DNFHold, false, func(b *buttons.Button) {
		if t.sess.ToggleDNF() {
			b.SuppressRelease = true
		}
	})

	submit := t.addButton("submit", []int{p.Submit}, nil)
	t.engine.AddCallback(submit, 0, true, func(*buttons.Button) { t.sess.Submit() })
	t.engine.AddCallback(submit, ResetCompetitorHold, false, func(b *buttons.Button) {
		if t.sess.ResetCompetitor() {
			b.SuppressRelease = true
		}
	})

	inspection := t.addButton("inspection", []int{p.Inspection}, nil)
	t.engine.AddCallback(inspection, 0, true, func(*buttons.Button) { t.sess.ToggleInspection() })

	delegate := t.addButton("delegate", []int{p.Delegate}, func(*buttons.Button) {
		t.sess.SetDelegateHold(0)
	})
	t.engine.AddRecurringCallback(delegate, delegateTick, func(held time.Duration) {
		if held < DelegateHold {
			t.sess.SetDelegateHold(held)
		}
	})
	t.engine.AddCallback(delegate, DelegateHold, false, func(*buttons.Button) { t.sess.CallDelegate() })

	reset := t.addButton("reset_solve", []int{p.Penalty, p.Submit}, nil)
	t.engine.AddCallback(reset, ResetSolveHold, false, func(*buttons.Button) {
		t.log.Info().Msg("solve reset from buttons")
		t.sess.ResetSolveState(false)
	})
}

func (t *Terminal) addButton(name string, pins []int, onDeactivate func(*buttons.Button)) buttons.ID {
	id := t.engine.AddButton(pins, nil, onDeactivate)
	t.names[id] = name
	t.pinSets = append(t.pinSets, slices.Sorted(slices.Values(pins)))
	return id
}

func (t *Terminal) knownPins(pins []int) bool {
	want := slices.Sorted(slices.Values(pins))
	return slices.ContainsFunc(t.pinSets, func(have []int) bool { return slices.Equal(have, want) })
}

// PollButtons services button presses until ctx is cancelled. A held
// button keeps the loop inside one press cycle until it is released.
// Presses queued with QueuePress run here, between physical presses.
func (t *Terminal) PollButtons(ctx context.Context) error {
	for ctx.Err() == nil {
		t.runQueuedPresses()
		id, ok := t.engine.Poll()
		if !ok {
			t.sleep(t.cfg.CheckInterval)
			continue
		}
		metrics.RecordPress(t.names[id])
	}
	return nil
}

// QueuePress schedules a simulated press for the button goroutine and
// returns at once. Unknown pin sets are rejected here.
func (t *Terminal) QueuePress(pins []int, d time.Duration) error {
	if !t.knownPins(pins) {
		return fmt.Errorf("%w: %v", buttons.ErrNoButton, pins)
	}
	select {
	case t.presses <- pressRequest{pins: slices.Clone(pins), hold: d}:
		return nil
	default:
		return ErrPressQueueFull
	}
}

func (t *Terminal) runQueuedPresses() {
	for {
		select {
		case req := <-t.presses:
			if err := t.Press(req.pins, req.hold); err != nil {
				t.log.Warn().Err(err).Ints("pins", req.pins).Msg("queued press failed")
			}
		default:
			return
		}
	}
}

// Press simulates holding the button bound to pins for d. It blocks for d;
// callers on the network path use QueuePress.
func (t *Terminal) Press(pins []int, d time.Duration) error {
	id, err := t.engine.TestPress(pins, d)
	if err != nil {
		return err
	}
	metrics.RecordPress(t.names[id])
	return nil
}
