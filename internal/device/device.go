// Package device wires the terminal together: the physical button layout,
// dispatch of backend messages into the session, and the control loop that
// drives the display and telemetry.
package device

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/buttons"
	"github.com/sweeney/stackmat-terminal/internal/display"
	"github.com/sweeney/stackmat-terminal/internal/logic"
	"github.com/sweeney/stackmat-terminal/internal/mqtt"
	"github.com/sweeney/stackmat-terminal/internal/ota"
	"github.com/sweeney/stackmat-terminal/internal/session"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
	"github.com/sweeney/stackmat-terminal/internal/status"
	"github.com/sweeney/stackmat-terminal/internal/store"
	"github.com/sweeney/stackmat-terminal/internal/wsclient"
)

const (
	DefaultTickInterval = 50 * time.Millisecond
	DefaultDebounce     = 250 * time.Millisecond

	// DefaultInitTimeout is how long boot waits for the backend clock
	// before falling back to the system clock.
	DefaultInitTimeout = 10 * time.Second
)

// Link is the backend channel.
type Link interface {
	Send(v any) error
	SendBinary(data []byte) error
	Connected() bool
}

// Updater installs firmware images streamed by the backend.
type Updater interface {
	Active() bool
	Start(version string, size int64) error
	Write(chunk []byte) (ota.Progress, error)
	Abort()
}

// TimerLink reports whether stackmat frames are arriving.
type TimerLink interface {
	Connected(now time.Time) bool
}

// Screen shows rendered display lines.
type Screen interface {
	Show(lines [display.Height]string) bool
}

// Pins are the BCM lines of the four buttons.
type Pins struct {
	Penalty    int
	Submit     int
	Inspection int
	Delegate   int
}

// Config holds terminal settings.
type Config struct {
	DeviceID      uint32
	Pins          Pins
	CheckInterval time.Duration
	Debounce      time.Duration
	Heartbeat     time.Duration // zero disables heartbeats
	InitTimeout   time.Duration
	StaleAfter    time.Duration
}

// Deps are the terminal's collaborators. Only Pins and Store are required.
type Deps struct {
	Pins         buttons.PinReader
	Store        store.NonVolatile
	Timer        TimerLink
	Updater      Updater
	Publisher    mqtt.Publisher
	MQTTStatus   mqtt.ConnectionStatus
	Tracker      *status.Tracker
	Screen       Screen
	Now          func() time.Time
	Sleep        func(time.Duration)
	NewSessionID func() string
	Logger       zerolog.Logger
}

// Terminal is one timing terminal.
type Terminal struct {
	cfg     Config
	sess    *session.Machine
	engine  *buttons.Engine
	names   map[buttons.ID]string
	timer   TimerLink
	updater Updater
	pub     mqtt.Publisher
	mqttSt  mqtt.ConnectionStatus
	tracker *status.Tracker
	screen  *display.Buffer
	out     Screen
	now     func() time.Time
	sleep   func(time.Duration)
	log     zerolog.Logger

	detector *logic.Detector
	started  time.Time

	pinSets [][]int
	presses chan pressRequest

	linkMu sync.RWMutex
	link   Link
}

// New builds a terminal in NotInitialized. Attach the backend link before
// starting its loops.
func New(cfg Config, deps Deps) *Terminal {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = buttons.DefaultCheckInterval
	}

	t := &Terminal{
		cfg:     cfg,
		names:   make(map[buttons.ID]string),
		presses: make(chan pressRequest, pressQueueLen),
		timer:   deps.Timer,
		updater: deps.Updater,
		pub:     deps.Publisher,
		mqttSt:  deps.MQTTStatus,
		tracker: deps.Tracker,
		screen:  display.NewBuffer(),
		out:     deps.Screen,
		now:     deps.Now,
		sleep:   deps.Sleep,
		log:     deps.Logger,
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.sleep == nil {
		t.sleep = time.Sleep
	}
	if t.out == nil {
		t.out = display.NewLogging(t.log.With().Str("component", "display").Logger())
	}
	t.started = t.now()
	t.detector = logic.NewDetector(cfg.Debounce, t.started)

	t.sess = session.New(session.Config{
		DeviceID:   cfg.DeviceID,
		StaleAfter: cfg.StaleAfter,
	}, session.Deps{
		Transport:    t,
		Store:        deps.Store,
		Now:          t.now,
		NewSessionID: deps.NewSessionID,
		Logger:       t.log.With().Str("component", "session").Logger(),
	})

	t.engine = buttons.NewEngine(deps.Pins,
		buttons.WithClock(t.now, t.sleep),
		buttons.WithCheckInterval(cfg.CheckInterval),
		buttons.WithLogger(t.log.With().Str("component", "buttons").Logger()))
	t.layoutButtons()
	return t
}

// Session returns the session machine.
func (t *Terminal) Session() *session.Machine { return t.sess }

// Attach sets the backend link.
func (t *Terminal) Attach(l Link) {
	t.linkMu.Lock()
	t.link = l
	t.linkMu.Unlock()
}

func (t *Terminal) backend() Link {
	t.linkMu.RLock()
	defer t.linkMu.RUnlock()
	return t.link
}

// Send implements session.Transport.
func (t *Terminal) Send(v any) error {
	l := t.backend()
	if l == nil {
		return wsclient.ErrNotConnected
	}
	return l.Send(v)
}

// Connected implements session.Transport.
func (t *Terminal) Connected() bool {
	l := t.backend()
	return l != nil && l.Connected()
}

func (t *Terminal) sendBinary(data []byte) {
	l := t.backend()
	if l == nil {
		return
	}
	if err := l.SendBinary(data); err != nil {
		t.log.Warn().Err(err).Msg("binary ack not sent")
	}
}

// OnReading feeds a timer reading to the session.
func (t *Terminal) OnReading(r stackmat.Reading) {
	t.sess.OnReading(r)
}

// ScanCard feeds a card scan to the session.
func (t *Terminal) ScanCard(cardID uint64) {
	t.sess.ScanCard(cardID)
}

// Lines returns what the display currently shows.
func (t *Terminal) Lines() [display.Height]string {
	return t.screen.Lines()
}
