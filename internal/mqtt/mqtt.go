// Package mqtt publishes terminal telemetry: link and scene transitions on
// an events topic, lifecycle events on a retained system topic.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/logic"
)

// TopicPrefix is the root of every telemetry topic.
const TopicPrefix = "stackmat/terminal"

// TimestampLayout is RFC 3339 in UTC with milliseconds. Scene changes can
// be closer together than a second.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Topics are the per-device telemetry topics.
type Topics struct {
	Events string // link and scene transitions
	System string // lifecycle events, retained
}

// TopicsFor returns the topics of deviceID.
func TopicsFor(deviceID uint32) Topics {
	base := fmt.Sprintf("%s/%d", TopicPrefix, deviceID)
	return Topics{Events: base + "/events", System: base + "/system"}
}

// Publisher publishes terminal telemetry. Errors are reported, never fatal.
type Publisher interface {
	Publish(event logic.Event) error
	PublishSystem(event SystemEvent) error
	Close() error
}

// ConnectionStatus reports whether the broker connection is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event: STARTUP, SHUTDOWN, HEARTBEAT or
// RECONNECTED. RawPayload, when set, is published as is; the terminal uses
// it to attach a full status snapshot.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // signal name on SHUTDOWN
	RawPayload []byte
	Retained   bool
}

// Payload is the events topic message.
type Payload struct {
	Terminal Transition `json:"terminal"`
}

// Transition describes one debounced change.
type Transition struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Links     Links  `json:"links"`
	Scene     string `json:"scene"`
}

// Links holds the debounced link states at the time of a transition.
type Links struct {
	Timer  string `json:"timer"`
	Server string `json:"server"`
}

func stamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatPayload encodes a transition for the events topic.
func FormatPayload(event logic.Event) ([]byte, error) {
	return json.Marshal(Payload{Terminal: Transition{
		Timestamp: stamp(event.Timestamp),
		Event:     string(event.Type),
		Links: Links{
			Timer:  string(event.TimerState),
			Server: string(event.ServerState),
		},
		Scene: event.Scene,
	}})
}

// SystemPayload is the short lifecycle message used when no status snapshot
// is attached (last will, RECONNECTED).
type SystemPayload struct {
	System Lifecycle `json:"system"`
}

// Lifecycle contains the lifecycle event details.
type Lifecycle struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload encodes a lifecycle event for the system topic.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{System: Lifecycle{
		Timestamp: stamp(event.Timestamp),
		Event:     event.Event,
		Reason:    event.Reason,
	}})
}
