package device

import (
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/metrics"
	"github.com/sweeney/stackmat-terminal/internal/ota"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
	"github.com/sweeney/stackmat-terminal/internal/session"
)

// UpdateFailedMessage is shown when a firmware image cannot be installed.
const UpdateFailedMessage = "Update failed"

// HandleText routes one backend message. Implements wsclient.Handler.
func (t *Terminal) HandleText(data []byte) {
	env, kind, err := protocol.Decode(data)
	if err != nil {
		t.log.Warn().Err(err).Int("len", len(data)).Msg("dropping backend message")
		return
	}
	t.log.Debug().Str("kind", string(kind)).Msg("backend message")

	switch kind {
	case protocol.KindCardInfoResponse:
		t.sess.HandleCardInfo(env.CardInfoResponse)
	case protocol.KindSolveConfirm:
		t.sess.HandleSolveConfirm(env.SolveConfirm)
	case protocol.KindDelegateResponse:
		t.sess.HandleDelegateResponse(env.DelegateResponse)
	case protocol.KindDeviceSettings:
		t.sess.HandleDeviceSettings(env.DeviceSettings)
	case protocol.KindAPIError:
		t.sess.HandleAPIError(env.APIError)
	case protocol.KindEpochTime:
		t.handleEpoch(env.EpochTime)
	case protocol.KindStartUpdate:
		t.handleStartUpdate(env.StartUpdate)
	case protocol.KindTestPacket:
		t.handleTestPacket(env.TestPacket)
	default:
		t.log.Warn().Str("kind", string(kind)).Msg("unexpected message from backend")
	}
}

// HandleBinary takes the next chunk of a firmware image. Implements
// wsclient.Handler.
func (t *Terminal) HandleBinary(data []byte) {
	if t.updater == nil || !t.updater.Active() {
		t.log.Warn().Int("len", len(data)).Msg("binary frame without update, dropping")
		return
	}
	p, err := t.updater.Write(data)
	if err != nil {
		t.log.Error().Err(err).Msg("firmware update failed")
		t.sess.ClearUpdate()
		t.sess.ShowError(UpdateFailedMessage)
		return
	}
	t.sess.SetUpdateProgress(p.Percent, p.Remaining)
	t.sendBinary(nil)
}

// HandleConnected tracks the backend link. Implements wsclient.Handler.
func (t *Terminal) HandleConnected(connected bool) {
	if connected {
		t.log.Info().Msg("backend connected")
		return
	}
	t.log.Warn().Msg("backend disconnected")
	if t.updater != nil && t.updater.Active() {
		t.updater.Abort()
		t.sess.ClearUpdate()
	}
	t.sess.HandleDisconnected()
}

func (t *Terminal) handleEpoch(e *protocol.EpochTime) {
	t.sess.SetEpoch(e.CurrentEpoch)
	if t.sess.Scene() == session.NotInitialized {
		t.sess.Init()
	}
}

func (t *Terminal) handleStartUpdate(u *protocol.StartUpdate) {
	if u.EspID != t.cfg.DeviceID {
		t.log.Warn().Uint32("esp_id", u.EspID).Msg("update for another device, discarding")
		metrics.RecordDiscarded(string(protocol.KindStartUpdate))
		return
	}
	if t.updater == nil {
		t.log.Warn().Str("version", u.Version).Msg("updates disabled, ignoring")
		return
	}
	if err := t.updater.Start(u.Version, u.Size); err != nil {
		switch {
		case errors.Is(err, ota.ErrSameVersion):
			t.log.Info().Str("version", u.Version).Msg("already running this version")
		default:
			t.log.Warn().Err(err).Msg("update rejected")
		}
		return
	}
	t.sess.SetUpdateProgress(0, u.Size)
	t.sendBinary(nil)
}

func (t *Terminal) handleTestPacket(p *protocol.TestPacket) {
	if err := t.Send(&protocol.Envelope{TestAck: &protocol.TestAck{EspID: t.cfg.DeviceID}}); err != nil {
		t.log.Warn().Err(err).Msg("test ack not sent")
	}

	var err error
	switch p.Type {
	case protocol.TestStart:
		t.sess.StartTestMode()
	case protocol.TestEnd:
		t.sess.EndTestMode()
	case protocol.TestSolveTime:
		var ms int64
		if ms, err = p.SolveTime(); err == nil {
			t.sess.TestSolveTime(ms)
		}
	case protocol.TestScanCard:
		var id uint64
		if id, err = p.CardID(); err == nil {
			t.sess.ScanCard(id)
		}
	case protocol.TestButtonPress:
		var d protocol.ButtonPressData
		if d, err = p.ButtonPress(); err == nil {
			err = t.QueuePress(d.Pins, time.Duration(d.PressTime)*time.Millisecond)
		}
	case protocol.TestResetState:
		t.sess.ResetSolveState(true)
	case protocol.TestSnapshot:
		err = t.Send(&protocol.Envelope{Snapshot: t.snapshot()})
	default:
		t.log.Warn().Str("type", string(p.Type)).Msg("unknown test packet")
		return
	}
	if err != nil {
		t.log.Warn().Err(err).Str("type", string(p.Type)).Msg("test packet failed")
	}
}

// snapshot is the session dump plus display and memory diagnostics.
func (t *Terminal) snapshot() *protocol.Snapshot {
	s := t.sess.Snapshot()
	lines := t.screen.Lines()
	s.LCDBuffer = strings.Join(lines[:], "\n")

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.FreeHeapSize = ms.HeapIdle - ms.HeapReleased
	return &s
}
