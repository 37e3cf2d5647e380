package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind Kind
	}{
		{"card info", `{"card_info_response":{"display":"Jan Kowalski","card_id":1001,"country_iso2":"PL","can_compete":true}}`, KindCardInfoResponse},
		{"solve confirm", `{"solve_confirm":{"competitor_id":1001,"esp_id":7,"session_id":"abc"}}`, KindSolveConfirm},
		{"delegate", `{"delegate_response":{"esp_id":7,"should_scan_cards":true}}`, KindDelegateResponse},
		{"settings", `{"device_settings":{"esp_id":7,"added":true}}`, KindDeviceSettings},
		{"update", `{"start_update":{"esp_id":7,"version":"v2","size":1024}}`, KindStartUpdate},
		{"api error", `{"api_error":{"esp_id":7,"error":"Competitor not found","should_reset_time":false}}`, KindAPIError},
		{"test packet", `{"test_packet":{"type":"Start"}}`, KindTestPacket},
		{"epoch", `{"epoch_time":{"current_epoch":1760000000}}`, KindEpochTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, kind, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.NotNil(t, env)
		})
	}
}

func TestDecodeCardInfoFields(t *testing.T) {
	env, _, err := Decode([]byte(`{"card_info_response":{"display":"Jan","card_id":3735928559,"country_iso2":"PL","can_compete":true}}`))
	require.NoError(t, err)

	r := env.CardInfoResponse
	assert.Equal(t, "Jan", r.Display)
	assert.Equal(t, uint64(3735928559), r.CardID)
	assert.Equal(t, "PL", r.CountryISO2)
	assert.True(t, r.CanCompete)
}

func TestDecodeOptionalFields(t *testing.T) {
	env, _, err := Decode([]byte(`{"delegate_response":{"esp_id":7,"should_scan_cards":false}}`))
	require.NoError(t, err)
	assert.Nil(t, env.DelegateResponse.SolveTime)
	assert.Nil(t, env.DelegateResponse.Penalty)

	env, _, err = Decode([]byte(`{"delegate_response":{"esp_id":7,"solve_time":9000,"penalty":-1,"should_scan_cards":false}}`))
	require.NoError(t, err)
	require.NotNil(t, env.DelegateResponse.SolveTime)
	assert.Equal(t, int64(9000), *env.DelegateResponse.SolveTime)
	assert.Equal(t, -1, *env.DelegateResponse.Penalty)

	env, _, err = Decode([]byte(`{"device_settings":{"esp_id":7,"use_inspection":false,"secondary_text":"3x3 R1","added":true}}`))
	require.NoError(t, err)
	require.NotNil(t, env.DeviceSettings.UseInspection)
	assert.False(t, *env.DeviceSettings.UseInspection)
	assert.Equal(t, "3x3 R1", *env.DeviceSettings.SecondaryText)
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode([]byte(`{"something_else":{}}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, _, err = Decode([]byte(`{"test_ack":{"esp_id":1},"epoch_time":{"current_epoch":1}}`))
	assert.ErrorIs(t, err, ErrAmbiguousMessage)

	_, _, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeSolve(t *testing.T) {
	b, err := Encode(&Envelope{Solve: &Solve{
		SolveTime:      12345,
		Penalty:        2,
		CompetitorID:   1001,
		JudgeID:        2002,
		EspID:          7,
		Timestamp:      1760000000,
		SessionID:      "s-1",
		InspectionTime: 15500,
	}})
	require.NoError(t, err)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Len(t, raw, 1)
	solve := raw["solve"]
	assert.Equal(t, float64(2002), solve["judge_id"])
	assert.Equal(t, false, solve["delegate"])
	assert.Equal(t, float64(15500), solve["inspection_time"])
	assert.Equal(t, "s-1", solve["session_id"])
}

func TestEncodeRejectsEmptyEnvelope(t *testing.T) {
	_, err := Encode(&Envelope{})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestTestPacketPayloads(t *testing.T) {
	env, _, err := Decode([]byte(`{"test_packet":{"type":"ButtonPress","data":{"pins":[27,17],"press_time":1500}}}`))
	require.NoError(t, err)
	bp, err := env.TestPacket.ButtonPress()
	require.NoError(t, err)
	assert.Equal(t, []int{27, 17}, bp.Pins)
	assert.Equal(t, int64(1500), bp.PressTime)

	env, _, err = Decode([]byte(`{"test_packet":{"type":"SolveTime","data":12345}}`))
	require.NoError(t, err)
	ms, err := env.TestPacket.SolveTime()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), ms)

	env, _, err = Decode([]byte(`{"test_packet":{"type":"ScanCard","data":1001}}`))
	require.NoError(t, err)
	id, err := env.TestPacket.CardID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), id)

	env, _, err = Decode([]byte(`{"test_packet":{"type":"ButtonPress","data":{"pins":[],"press_time":10}}}`))
	require.NoError(t, err)
	_, err = env.TestPacket.ButtonPress()
	assert.Error(t, err)
}
