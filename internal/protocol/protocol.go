// Package protocol defines the JSON messages exchanged with the competition
// backend. Every message is an object with exactly one top-level key naming
// its kind.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a message type by its top-level key.
type Kind string

const (
	KindCardInfoRequest  Kind = "card_info_request"
	KindCardInfoResponse Kind = "card_info_response"
	KindSolve            Kind = "solve"
	KindSolveConfirm     Kind = "solve_confirm"
	KindDelegateResponse Kind = "delegate_response"
	KindDeviceSettings   Kind = "device_settings"
	KindStartUpdate      Kind = "start_update"
	KindAPIError         Kind = "api_error"
	KindTestPacket       Kind = "test_packet"
	KindTestAck          Kind = "test_ack"
	KindSnapshot         Kind = "snapshot"
	KindEpochTime        Kind = "epoch_time"
)

var (
	// ErrUnknownMessage is returned for envelopes with no recognised key.
	ErrUnknownMessage = errors.New("protocol: unknown message")

	// ErrAmbiguousMessage is returned for envelopes carrying more than one key.
	ErrAmbiguousMessage = errors.New("protocol: more than one message in envelope")
)

// Envelope holds one message. Exactly one field is set.
type Envelope struct {
	CardInfoRequest  *CardInfoRequest  `json:"card_info_request,omitempty"`
	CardInfoResponse *CardInfoResponse `json:"card_info_response,omitempty"`
	Solve            *Solve            `json:"solve,omitempty"`
	SolveConfirm     *SolveConfirm     `json:"solve_confirm,omitempty"`
	DelegateResponse *DelegateResponse `json:"delegate_response,omitempty"`
	DeviceSettings   *DeviceSettings   `json:"device_settings,omitempty"`
	StartUpdate      *StartUpdate      `json:"start_update,omitempty"`
	APIError         *APIError         `json:"api_error,omitempty"`
	TestPacket       *TestPacket       `json:"test_packet,omitempty"`
	TestAck          *TestAck          `json:"test_ack,omitempty"`
	Snapshot         *Snapshot         `json:"snapshot,omitempty"`
	EpochTime        *EpochTime        `json:"epoch_time,omitempty"`
}

// CardInfoRequest asks the backend to resolve a scanned card.
type CardInfoRequest struct {
	CardID uint64 `json:"card_id"`
	EspID  uint32 `json:"esp_id"`
}

// CardInfoResponse resolves a card to a person.
type CardInfoResponse struct {
	Display     string `json:"display"`
	CardID      uint64 `json:"card_id"`
	CountryISO2 string `json:"country_iso2"`
	CanCompete  bool   `json:"can_compete"`
}

// Solve submits a result.
type Solve struct {
	SolveTime      int64  `json:"solve_time"`
	Penalty        int    `json:"penalty"`
	CompetitorID   uint64 `json:"competitor_id"`
	JudgeID        uint64 `json:"judge_id"`
	EspID          uint32 `json:"esp_id"`
	Timestamp      int64  `json:"timestamp"`
	SessionID      string `json:"session_id"`
	Delegate       bool   `json:"delegate"`
	InspectionTime int64  `json:"inspection_time"`
}

// SolveConfirm acknowledges a submitted solve.
type SolveConfirm struct {
	CompetitorID uint64 `json:"competitor_id"`
	EspID        uint32 `json:"esp_id"`
	SessionID    string `json:"session_id"`
}

// DelegateResponse resolves a delegate call. SolveTime and Penalty are only
// present when the delegate changed them.
type DelegateResponse struct {
	EspID           uint32 `json:"esp_id"`
	SolveTime       *int64 `json:"solve_time,omitempty"`
	Penalty         *int   `json:"penalty,omitempty"`
	ShouldScanCards bool   `json:"should_scan_cards"`
}

// DeviceSettings is a runtime configuration push.
type DeviceSettings struct {
	EspID         uint32  `json:"esp_id"`
	UseInspection *bool   `json:"use_inspection,omitempty"`
	SecondaryText *string `json:"secondary_text,omitempty"`
	Added         bool    `json:"added"`
}

// StartUpdate announces a firmware image; binary frames with the image follow.
type StartUpdate struct {
	EspID   uint32 `json:"esp_id"`
	Version string `json:"version"`
	Size    int64  `json:"size"`
}

// APIError reports a backend-side failure to show on the device.
type APIError struct {
	EspID           uint32 `json:"esp_id"`
	Error           string `json:"error"`
	ShouldResetTime bool   `json:"should_reset_time"`
}

// TestAck acknowledges a test packet.
type TestAck struct {
	EspID uint32 `json:"esp_id"`
}

// EpochTime carries the backend clock in Unix seconds.
type EpochTime struct {
	CurrentEpoch int64 `json:"current_epoch"`
}

// Snapshot is a full dump of the session for debugging.
type Snapshot struct {
	EspID             uint32 `json:"esp_id"`
	Scene             int    `json:"scene"`
	SceneName         string `json:"scene_name"`
	SolveSessionID    string `json:"solve_session_id"`
	SolveTime         int64  `json:"solve_time"`
	LastSolveTime     int64  `json:"last_solve_time"`
	Penalty           int    `json:"penalty"`
	UseInspection     bool   `json:"use_inspection"`
	SecondaryText     string `json:"secondary_text"`
	InspectionStarted int64  `json:"inspection_started"`
	InspectionEnded   int64  `json:"inspection_ended"`
	CompetitorCardID  uint64 `json:"competitor_card_id"`
	JudgeCardID       uint64 `json:"judge_card_id"`
	CompetitorDisplay string `json:"competitor_display"`
	TimeConfirmed     bool   `json:"time_confirmed"`
	TestMode          bool   `json:"test_mode"`
	Added             bool   `json:"added"`
	ErrorMsg          string `json:"error_msg"`
	LCDBuffer         string `json:"lcd_buffer"`
	FreeHeapSize      uint64 `json:"free_heap_size"`
}

// Kind reports which message the envelope carries.
func (e *Envelope) Kind() (Kind, error) {
	var kinds []Kind
	add := func(set bool, k Kind) {
		if set {
			kinds = append(kinds, k)
		}
	}
	add(e.CardInfoRequest != nil, KindCardInfoRequest)
	add(e.CardInfoResponse != nil, KindCardInfoResponse)
	add(e.Solve != nil, KindSolve)
	add(e.SolveConfirm != nil, KindSolveConfirm)
	add(e.DelegateResponse != nil, KindDelegateResponse)
	add(e.DeviceSettings != nil, KindDeviceSettings)
	add(e.StartUpdate != nil, KindStartUpdate)
	add(e.APIError != nil, KindAPIError)
	add(e.TestPacket != nil, KindTestPacket)
	add(e.TestAck != nil, KindTestAck)
	add(e.Snapshot != nil, KindSnapshot)
	add(e.EpochTime != nil, KindEpochTime)

	switch len(kinds) {
	case 0:
		return "", ErrUnknownMessage
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrAmbiguousMessage, kinds)
	}
}

// Decode parses one text frame.
func Decode(data []byte) (*Envelope, Kind, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode message: %w", err)
	}
	kind, err := env.Kind()
	if err != nil {
		return nil, "", err
	}
	return &env, kind, nil
}

// Encode serialises an envelope to a text frame.
func Encode(env *Envelope) ([]byte, error) {
	if _, err := env.Kind(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}
