// Package metrics provides Prometheus metrics for the stackmat terminal.
//
// Labels are bounded enums (frame results, scene names, message kinds).
// Card ids and session ids never appear in labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StackmatFramesTotal counts decoded timer frames by result
	// (accepted, checksum, short, timeout).
	StackmatFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_frames_total",
		Help: "Total number of stackmat frames read, by result.",
	}, []string{"result"})

	// ButtonPressesTotal counts completed press cycles by button name.
	ButtonPressesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_button_presses_total",
		Help: "Total number of completed button press cycles, by button.",
	}, []string{"button"})

	// SceneTransitionsTotal counts scene changes by the scene entered.
	SceneTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_scene_transitions_total",
		Help: "Total number of scene transitions, by destination scene.",
	}, []string{"scene"})

	// SolvesSubmittedTotal counts solve messages sent, split by delegate flag.
	SolvesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_solves_submitted_total",
		Help: "Total number of solve submissions, by delegate flag.",
	}, []string{"delegate"})

	// DiscardedRepliesTotal counts inbound replies dropped by integrity checks.
	DiscardedRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_discarded_replies_total",
		Help: "Total number of inbound replies discarded, by message kind.",
	}, []string{"kind"})

	// WSMessagesTotal counts websocket messages by direction and kind.
	WSMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_ws_messages_total",
		Help: "Total number of websocket messages, by direction and kind.",
	}, []string{"direction", "kind"})

	// WSReconnectsTotal counts websocket dial attempts that failed.
	WSReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackmat_ws_dial_failures_total",
		Help: "Total number of failed websocket dial attempts.",
	})

	// MQTTPublishTotal counts telemetry publish outcomes (sent, buffered, dropped).
	MQTTPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackmat_mqtt_publish_total",
		Help: "Total number of MQTT telemetry publishes, by outcome.",
	}, []string{"outcome"})

	// OTABytesTotal counts firmware bytes received.
	OTABytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackmat_ota_bytes_total",
		Help: "Total number of firmware image bytes received.",
	})

	// WSConnected is 1 while the backend channel is up.
	WSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackmat_ws_connected",
		Help: "Whether the backend websocket is connected (1) or not (0).",
	})

	// TimerConnected is 1 while stackmat frames arrive within the timeout.
	TimerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackmat_timer_connected",
		Help: "Whether the stackmat timer is connected (1) or not (0).",
	})

	// LastSolveMillis is the most recent solve time in milliseconds.
	LastSolveMillis = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackmat_last_solve_milliseconds",
		Help: "Most recent solve time in milliseconds.",
	})
)

// RecordFrame increments the frame counter for result.
func RecordFrame(result string) {
	StackmatFramesTotal.WithLabelValues(result).Inc()
}

// RecordPress increments the press counter for button.
func RecordPress(button string) {
	ButtonPressesTotal.WithLabelValues(button).Inc()
}

// RecordScene increments the transition counter for scene.
func RecordScene(scene string) {
	SceneTransitionsTotal.WithLabelValues(scene).Inc()
}

// RecordSolve increments the solve counter and updates the last solve gauge.
func RecordSolve(millis int64, delegate bool) {
	label := "false"
	if delegate {
		label = "true"
	}
	SolvesSubmittedTotal.WithLabelValues(label).Inc()
	LastSolveMillis.Set(float64(millis))
}

// RecordDiscarded increments the discarded reply counter for kind.
func RecordDiscarded(kind string) {
	DiscardedRepliesTotal.WithLabelValues(kind).Inc()
}

// RecordWS increments the websocket message counter.
func RecordWS(direction, kind string) {
	WSMessagesTotal.WithLabelValues(direction, kind).Inc()
}

// SetConnected updates the connectivity gauges.
func SetConnected(timer, server bool) {
	TimerConnected.Set(boolGauge(timer))
	WSConnected.Set(boolGauge(server))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
