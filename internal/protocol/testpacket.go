package protocol

import (
	"encoding/json"
	"fmt"
)

// TestPacketType selects the action of a test packet.
type TestPacketType string

const (
	TestStart       TestPacketType = "Start"
	TestEnd         TestPacketType = "End"
	TestSolveTime   TestPacketType = "SolveTime"
	TestButtonPress TestPacketType = "ButtonPress"
	TestScanCard    TestPacketType = "ScanCard"
	TestResetState  TestPacketType = "ResetState"
	TestSnapshot    TestPacketType = "Snapshot"
)

// TestPacket drives the device remotely in test mode. Data depends on Type.
type TestPacket struct {
	Type TestPacketType  `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ButtonPressData is the payload of a ButtonPress test packet.
type ButtonPressData struct {
	Pins      []int `json:"pins"`
	PressTime int64 `json:"press_time"` // milliseconds
}

// SolveTime decodes the payload of a SolveTime packet (milliseconds).
func (p *TestPacket) SolveTime() (int64, error) {
	var ms int64
	if err := json.Unmarshal(p.Data, &ms); err != nil {
		return 0, fmt.Errorf("test packet %s: %w", p.Type, err)
	}
	return ms, nil
}

// CardID decodes the payload of a ScanCard packet.
func (p *TestPacket) CardID() (uint64, error) {
	var id uint64
	if err := json.Unmarshal(p.Data, &id); err != nil {
		return 0, fmt.Errorf("test packet %s: %w", p.Type, err)
	}
	return id, nil
}

// ButtonPress decodes the payload of a ButtonPress packet.
func (p *TestPacket) ButtonPress() (ButtonPressData, error) {
	var d ButtonPressData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return d, fmt.Errorf("test packet %s: %w", p.Type, err)
	}
	if len(d.Pins) == 0 {
		return d, fmt.Errorf("test packet %s: no pins", p.Type)
	}
	return d, nil
}
