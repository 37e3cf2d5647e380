package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/stackmat-terminal/internal/store"
)

func TestRecordLayout(t *testing.T) {
	assert.Equal(t, 85, recordSize)
}

func TestSnapshotRoundTrip(t *testing.T) {
	nv := store.NewMemory(store.DefaultSize)
	want := Saved{
		SessionID:         "0b0e7a5c-5f3d-4d4e-9f59-0c1d2e3f4a5b",
		CompetitorCardID:  3735928559,
		InspectionStarted: 1_700_000_000_000,
		InspectionEnded:   1_700_000_012_500,
		SaveTime:          time.Unix(1_700_000_100, 0),
		SolveTime:         12345,
		Penalty:           PenaltyDNF,
		CalibrationOffset: 1.25,
	}
	require.NoError(t, writeSnapshot(nv, want))
	assert.Equal(t, 1, nv.Commits)
	assert.Equal(t, byte(recordSize), nv.Committed[0])

	got, err := readSnapshot(nv)
	require.NoError(t, err)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.CompetitorCardID, got.CompetitorCardID)
	assert.Equal(t, want.InspectionStarted, got.InspectionStarted)
	assert.Equal(t, want.InspectionEnded, got.InspectionEnded)
	assert.True(t, want.SaveTime.Equal(got.SaveTime))
	assert.Equal(t, want.SolveTime, got.SolveTime)
	assert.Equal(t, want.Penalty, got.Penalty)
	assert.Equal(t, want.CalibrationOffset, got.CalibrationOffset)
}

func TestReadSnapshotBlankStore(t *testing.T) {
	_, err := readSnapshot(store.NewMemory(store.DefaultSize))
	assert.True(t, errors.Is(err, errNoSnapshot))
}

func TestWriteSnapshotCommitError(t *testing.T) {
	nv := store.NewMemory(store.DefaultSize)
	nv.CommitError = errors.New("flash worn out")
	err := writeSnapshot(nv, Saved{SessionID: "x"})
	assert.ErrorIs(t, err, nv.CommitError)
}

func TestInitRestoresRecentSession(t *testing.T) {
	nv := store.NewMemory(store.DefaultSize)
	h := newHarnessWithStore(t, nv)
	require.NoError(t, writeSnapshot(nv, Saved{
		SessionID:         "saved-session",
		CompetitorCardID:  1001,
		InspectionStarted: 100,
		InspectionEnded:   8100,
		SaveTime:          h.clk.Now().Add(-time.Hour),
		SolveTime:         12345,
		Penalty:           2,
		CalibrationOffset: 0.5,
	}))

	h.m.Init()
	st := h.m.State()
	assert.Equal(t, FinishedTime, st.Scene)
	assert.Equal(t, "saved-session", st.SessionID)
	assert.Equal(t, uint64(1001), st.CompetitorCardID)
	assert.Equal(t, int64(12345), st.SolveTime)
	assert.Equal(t, int64(12345), st.LastSolveTime)
	assert.Equal(t, 2, st.Penalty)
	assert.Equal(t, int64(100), st.InspectionStarted)
	assert.Equal(t, int64(8100), st.InspectionEnded)
	assert.Equal(t, float32(0.5), st.CalibrationOffset)
}

func TestInitDropsStaleSession(t *testing.T) {
	for name, age := range map[string]time.Duration{
		"old":    7 * time.Hour,
		"future": -time.Minute,
	} {
		t.Run(name, func(t *testing.T) {
			nv := store.NewMemory(store.DefaultSize)
			h := newHarnessWithStore(t, nv)
			require.NoError(t, writeSnapshot(nv, Saved{
				SessionID:         "saved-session",
				CompetitorCardID:  1001,
				SaveTime:          h.clk.Now().Add(-age),
				SolveTime:         12345,
				CalibrationOffset: 1.5,
			}))

			h.m.Init()
			st := h.m.State()
			assert.Equal(t, WaitingForCompetitor, st.Scene)
			assert.Equal(t, "session-1", st.SessionID)
			assert.Zero(t, st.SolveTime)
			assert.Zero(t, st.CompetitorCardID)
			assert.Equal(t, float32(1.5), st.CalibrationOffset, "calibration survives staleness")
		})
	}
}

func TestInitIgnoresOutOfRangeCalibration(t *testing.T) {
	nv := store.NewMemory(store.DefaultSize)
	h := newHarnessWithStore(t, nv)
	require.NoError(t, writeSnapshot(nv, Saved{SaveTime: h.clk.Now(), CalibrationOffset: 7}))

	h.m.Init()
	assert.Zero(t, h.m.State().CalibrationOffset)
}

func TestSolveSessionPersists(t *testing.T) {
	h := finished(t, 12345)
	got, err := readSnapshot(h.nv)
	require.NoError(t, err)
	assert.Equal(t, "session-2", got.SessionID)
	assert.Equal(t, int64(12345), got.SolveTime)
	assert.Equal(t, uint64(1001), got.CompetitorCardID)
	assert.Equal(t, h.clk.Now().Unix(), got.SaveTime.Unix())

	// A fresh machine on the same store picks the session back up.
	h2 := newHarnessWithStore(t, h.nv)
	h2.m.Init()
	assert.Equal(t, "session-2", h2.m.State().SessionID)
	assert.Equal(t, FinishedTime, h2.m.Scene())
}
