// Package logic contains pure link and scene tracking for telemetry.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the debounced state of a link.
type State string

const (
	StateUp   State = "UP"
	StateDown State = "DOWN"
)

// EventType represents a transition to be published.
type EventType string

const (
	EventTimerUp    EventType = "TIMER_CONNECTED"
	EventTimerDown  EventType = "TIMER_DISCONNECTED"
	EventServerUp   EventType = "SERVER_CONNECTED"
	EventServerDown EventType = "SERVER_DISCONNECTED"
	EventScene      EventType = "SCENE"
)

// Event represents a transition to be published.
type Event struct {
	Timestamp   time.Time
	Type        EventType
	TimerState  State
	ServerState State
	Scene       string
}

// ChannelState tracks debounce state for a single link.
type ChannelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input represents a single sample of link states and the current scene.
type Input struct {
	Timer  bool // stackmat frames arriving
	Server bool // backend websocket up
	Scene  string
	Time   time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	TimerUp    int
	TimerDown  int
	ServerUp   int
	ServerDown int
	Scenes     int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
