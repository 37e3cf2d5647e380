package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/logic"
)

var ts = time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)

func TestTopicsFor(t *testing.T) {
	got := TopicsFor(694202137)
	if got.Events != "stackmat/terminal/694202137/events" {
		t.Errorf("unexpected events topic %q", got.Events)
	}
	if got.System != "stackmat/terminal/694202137/system" {
		t.Errorf("unexpected system topic %q", got.System)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	payload, err := FormatPayload(logic.Event{
		Timestamp:   ts,
		Type:        logic.EventTimerDown,
		TimerState:  logic.StateDown,
		ServerState: logic.StateUp,
		Scene:       "WaitingForCompetitor",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"terminal":{"timestamp":"2026-10-18T09:15:00.000Z","event":"TIMER_DISCONNECTED","links":{"timer":"DOWN","server":"UP"},"scene":"WaitingForCompetitor"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadAllEventTypes(t *testing.T) {
	for _, typ := range []logic.EventType{
		logic.EventTimerUp, logic.EventTimerDown,
		logic.EventServerUp, logic.EventServerDown,
		logic.EventScene,
	} {
		payload, err := FormatPayload(logic.Event{Timestamp: ts, Type: typ})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		var parsed Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("%s: invalid JSON: %v", typ, err)
		}
		if parsed.Terminal.Event != string(typ) {
			t.Errorf("expected event %s, got %s", typ, parsed.Terminal.Event)
		}
	}
}

func TestFormatPayloadMilliseconds(t *testing.T) {
	payload, err := FormatPayload(logic.Event{Timestamp: ts.Add(250 * time.Millisecond), Type: logic.EventScene})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Terminal.Timestamp != "2026-10-18T09:15:00.250Z" {
		t.Errorf("expected millisecond timestamp, got %s", parsed.Terminal.Timestamp)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	warsaw := time.FixedZone("CEST", 2*60*60)
	payload, err := FormatPayload(logic.Event{Timestamp: ts.In(warsaw), Type: logic.EventScene})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Terminal.Timestamp != "2026-10-18T09:15:00.000Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Terminal.Timestamp)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"system":{"timestamp":"2026-10-18T09:15:00.000Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "RECONNECTED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"system":{"timestamp":"2026-10-18T09:15:00.000Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"system":{"event":"HEARTBEAT","uptime_seconds":60}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload, got %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	events := []logic.Event{
		{Timestamp: ts, Type: logic.EventServerUp},
		{Timestamp: ts.Add(time.Second), Type: logic.EventScene, Scene: "CompetitorInfo"},
	}
	for _, e := range events {
		if err := f.Publish(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(f.Events) != 2 || len(f.Payloads) != 2 {
		t.Fatalf("expected 2 events and payloads, got %d/%d", len(f.Events), len(f.Payloads))
	}
	types := f.EventTypes()
	if types[0] != logic.EventServerUp || types[1] != logic.EventScene {
		t.Errorf("events out of order: %v", types)
	}
	if f.Events[1].Scene != "CompetitorInfo" {
		t.Errorf("scene not preserved: %+v", f.Events[1])
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker down")

	if err := f.Publish(logic.Event{}); err == nil {
		t.Error("expected publish error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("expected publish system error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherSystemEvents(t *testing.T) {
	f := NewFakePublisher()
	f.PublishSystem(SystemEvent{Timestamp: ts, Event: "STARTUP", Retained: true})
	f.PublishSystem(SystemEvent{Timestamp: ts, Event: "HEARTBEAT"})

	names := f.SystemEventNames()
	if len(names) != 2 || names[0] != "STARTUP" || names[1] != "HEARTBEAT" {
		t.Fatalf("unexpected system events %v", names)
	}
	if !f.SystemEvents[0].Retained || f.SystemEvents[1].Retained {
		t.Error("retained flag not recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Connected = true
	f.Publish(logic.Event{})
	f.PublishSystem(SystemEvent{})
	f.Close()

	f.Reset()
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 || f.Closed || f.IsConnected() {
		t.Errorf("reset left state behind: %+v", f)
	}
	if err := f.Publish(logic.Event{}); err != nil {
		t.Errorf("publisher unusable after reset: %v", err)
	}
}
