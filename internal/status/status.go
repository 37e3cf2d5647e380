// Package status provides a thread-safe status tracker for the terminal.
// It is read by the HTTP status page and by telemetry events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/display"
	"github.com/sweeney/stackmat-terminal/internal/logic"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains terminal configuration for display.
type Config struct {
	DeviceID    uint32
	Version     string
	BackendURL  string
	TimerPort   string
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of terminal state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Timer         logic.State
	Server        logic.State
	Baselined     bool
	Counts        logic.EventCounts
	Session       protocol.Snapshot
	Display       [display.Height]string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the terminal started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable terminal state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets link states, baseline status, and event counts.
// Called from the control loop on every tick.
func (t *Tracker) Update(timer, server logic.State, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Timer = timer
	t.snap.Server = server
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetSession records the latest session dump.
func (t *Tracker) SetSession(s protocol.Snapshot) {
	t.mu.Lock()
	t.snap.Session = s
	t.mu.Unlock()
}

// SetDisplay records what the display currently shows.
func (t *Tracker) SetDisplay(lines [display.Height]string) {
	t.mu.Lock()
	t.snap.Display = lines
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the terminal state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
