package logic

import "time"

// Detector debounces the timer and server links and reports scene changes.
type Detector struct {
	debounceDuration time.Duration
	timer            ChannelState
	server           ChannelState
	scene            string
	baselined        bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a new transition detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new input sample and returns any events that should be emitted.
// Events are only returned after baseline is established and on transitions.
// Scene changes are not debounced.
func (d *Detector) Process(input Input) []Event {
	timerTransition := d.processChannel(&d.timer, boolToState(input.Timer), input.Time)
	serverTransition := d.processChannel(&d.server, boolToState(input.Server), input.Time)

	if !d.baselined {
		d.scene = input.Scene
		if d.timer.Baselined && d.server.Baselined {
			d.baselined = true
		}
		return nil // No events until baseline established
	}

	var types []EventType
	// Order: timer, server, then scene
	if timerTransition != nil {
		types = append(types, *timerTransition)
	}
	if serverTransition != nil {
		types = append(types, *serverTransition)
	}
	if input.Scene != d.scene {
		d.scene = input.Scene
		types = append(types, EventScene)
	}

	events := make([]Event, 0, len(types))
	for _, typ := range types {
		events = append(events, Event{
			Timestamp:   input.Time,
			Type:        typ,
			TimerState:  d.timer.Stable,
			ServerState: d.server.Stable,
			Scene:       d.scene,
		})
		d.count(typ)
	}
	return events
}

func (d *Detector) count(typ EventType) {
	switch typ {
	case EventTimerUp:
		d.eventCounts.TimerUp++
	case EventTimerDown:
		d.eventCounts.TimerDown++
	case EventServerUp:
		d.eventCounts.ServerUp++
	case EventServerDown:
		d.eventCounts.ServerDown++
	case EventScene:
		d.eventCounts.Scenes++
	}
}

// processChannel handles debounce logic for a single link.
// Returns the event type if a transition occurred, nil otherwise.
func (d *Detector) processChannel(ch *ChannelState, newState State, now time.Time) *EventType {
	if !ch.Baselined {
		if ch.Pending != newState {
			// First sample, or the state changed during baseline: restart
			ch.Pending = newState
			ch.PendingSince = now
			return nil
		}
		if now.Sub(ch.PendingSince) >= d.debounceDuration {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return nil
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return nil
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
		return nil
	}

	if now.Sub(ch.PendingSince) >= d.debounceDuration {
		ch.Stable = newState
		ch.Pending = ""
		return eventTypeForTransition(newState, ch == &d.timer)
	}
	return nil
}

func boolToState(b bool) State {
	if b {
		return StateUp
	}
	return StateDown
}

func eventTypeForTransition(to State, isTimer bool) *EventType {
	var event EventType
	switch {
	case isTimer && to == StateUp:
		event = EventTimerUp
	case isTimer:
		event = EventTimerDown
	case to == StateUp:
		event = EventServerUp
	default:
		event = EventServerDown
	}
	return &event
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// CurrentState returns the current stable link states.
func (d *Detector) CurrentState() (timer State, server State) {
	return d.timer.Stable, d.server.Stable
}

// Connected returns the stable link states as booleans.
func (d *Detector) Connected() (timer, server bool) {
	return d.timer.Stable == StateUp, d.server.Stable == StateUp
}

// Scene returns the last scene seen.
func (d *Detector) Scene() string {
	return d.scene
}

// EventCountsSnapshot returns a copy of the event counters.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
