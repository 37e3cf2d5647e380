package device

import (
	"context"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/logic"
	"github.com/sweeney/stackmat-terminal/internal/mqtt"
	"github.com/sweeney/stackmat-terminal/internal/session"
	"github.com/sweeney/stackmat-terminal/internal/status"
)

// Loop runs Tick on every tick until ctx is cancelled.
func (t *Terminal) Loop(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			t.Tick(t.now())
		}
	}
}

// Tick is one control loop step: boot fallback, link debouncing, display
// refresh, status tracking and telemetry.
func (t *Terminal) Tick(now time.Time) {
	scene := t.sess.Scene()
	if scene == session.NotInitialized && now.Sub(t.started) >= t.cfg.InitTimeout {
		t.log.Warn().Dur("waited", now.Sub(t.started)).Msg("no clock from backend, starting with system clock")
		t.sess.Init()
		scene = t.sess.Scene()
	}

	timerUp := t.timer != nil && t.timer.Connected(now)
	events := t.detector.Process(logic.Input{
		Timer:  timerUp,
		Server: t.Connected(),
		Scene:  scene.String(),
		Time:   now,
	})
	if t.detector.IsBaselined() {
		t.sess.SetConnectivity(t.detector.Connected())
	}
	for _, e := range events {
		t.log.Info().
			Str("event", string(e.Type)).
			Str("timer", string(e.TimerState)).
			Str("server", string(e.ServerState)).
			Str("scene", e.Scene).
			Msg("transition")
		if t.pub == nil {
			continue
		}
		if err := t.pub.Publish(e); err != nil {
			t.log.Warn().Err(err).Msg("publish error")
		}
	}

	t.redraw(now)
	t.track()
	t.heartbeat(now)
}

func (t *Terminal) redraw(now time.Time) {
	changed := false
	select {
	case <-t.sess.Changed():
		changed = true
	default:
	}
	if changed || t.sess.Live() {
		for _, req := range t.sess.Render(now) {
			t.screen.Apply(req)
		}
	}
	t.screen.Tick(now)
	t.out.Show(t.screen.Lines())
}

func (t *Terminal) track() {
	if t.tracker == nil {
		return
	}
	timer, server := t.detector.CurrentState()
	t.tracker.Update(timer, server, t.detector.IsBaselined(), t.detector.EventCountsSnapshot())
	t.tracker.SetSession(t.sess.Snapshot())
	t.tracker.SetDisplay(t.screen.Lines())
	if t.mqttSt != nil {
		t.tracker.SetMQTTConnected(t.mqttSt.IsConnected())
	}
}

func (t *Terminal) heartbeat(now time.Time) {
	hb := t.detector.CheckHeartbeat(now, t.cfg.Heartbeat)
	if hb == nil || t.pub == nil {
		return
	}
	t.log.Info().
		Dur("uptime", hb.Uptime).
		Int("scenes", hb.Counts.Scenes).
		Int("server_down", hb.Counts.ServerDown).
		Msg("heartbeat")
	t.PublishSystem("HEARTBEAT", "", false)
}

// PublishSystem publishes a lifecycle event carrying the full status.
// STARTUP and SHUTDOWN are retained so late subscribers see the last one.
func (t *Terminal) PublishSystem(event, reason string, retained bool) {
	if t.pub == nil {
		return
	}
	ev := mqtt.SystemEvent{
		Timestamp: t.now(),
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if t.tracker != nil {
		t.track()
		snap := t.tracker.Snapshot()
		ev.RawPayload = status.FormatStatusEvent(snap, event, reason)
	}
	if err := t.pub.PublishSystem(ev); err != nil {
		t.log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	t.log.Info().Str("event", event).Msg("published system event")
}
