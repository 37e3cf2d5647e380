// Package session owns the competition flow: which scene the terminal is
// in, the current solve session, and its durable snapshot.
//
// Machine is the single writer of session state. Every exported method
// takes the machine lock, so button callbacks, timer readings and network
// handlers can call in from different goroutines.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/metrics"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
	"github.com/sweeney/stackmat-terminal/internal/store"
)

// Transport sends messages to the backend.
type Transport interface {
	Send(v any) error
	Connected() bool
}

// Config holds per-device settings.
type Config struct {
	DeviceID   uint32
	StaleAfter time.Duration
}

// Deps are the machine's collaborators. Now and NewSessionID default to the
// wall clock and random UUIDs.
type Deps struct {
	Transport    Transport
	Store        store.NonVolatile
	Now          func() time.Time
	NewSessionID func() string
	Logger       zerolog.Logger
}

// State is the session aggregate. Timestamps are Unix milliseconds.
type State struct {
	Scene            Scene
	SceneBeforeError Scene

	SessionID     string
	SolveTime     int64
	LastSolveTime int64
	Penalty       int

	CompetitorCardID  uint64
	JudgeCardID       uint64
	CompetitorDisplay string
	SecondaryText     string

	UseInspection     bool
	InspectionStarted int64
	InspectionEnded   int64

	TimeConfirmed bool
	TestMode      bool
	TestTime      int64 // stands in for the timer in test mode
	Added         bool

	LastTimerState stackmat.State
	ErrorMsg       string

	// WaitingForSolve and WaitingForDelegate block scene drawing until the
	// backend answers.
	WaitingForSolve    bool
	WaitingForDelegate bool

	// DelegateHold is how long the delegate button has been held so far.
	DelegateHold time.Duration

	CalibrationOffset float32
}

type updateProgress struct {
	percent   int
	remaining int64
}

// Machine is the session state machine.
type Machine struct {
	mu    sync.Mutex
	cfg   Config
	tr    Transport
	nv    store.NonVolatile
	now   func() time.Time
	newID func() string
	log   zerolog.Logger

	st State

	timer           stackmat.Reading
	timerConnected  bool
	serverConnected bool

	epochOffset time.Duration
	epochSynced bool

	update  *updateProgress
	changed chan struct{}
}

// New creates a machine in NotInitialized. Call Init once the clock is
// trustworthy.
func New(cfg Config, deps Deps) *Machine {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	m := &Machine{
		cfg:     cfg,
		tr:      deps.Transport,
		nv:      deps.Store,
		now:     deps.Now,
		newID:   deps.NewSessionID,
		log:     deps.Logger,
		changed: make(chan struct{}, 1),
		st: State{
			Scene:         NotInitialized,
			UseInspection: true,
			Added:         true,
		},
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() string { return uuid.NewString() }
	}
	return m
}

// Init restores the saved session if it is recent enough and enters the
// first real scene. It is a no-op after the first call.
func (m *Machine) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Scene != NotInitialized {
		m.log.Warn().Msg("session already initialized")
		return
	}

	m.st.SessionID = m.newID()
	saved, err := readSnapshot(m.nv)
	switch {
	case errors.Is(err, errNoSnapshot):
		m.log.Info().Msg("no saved session, starting fresh")
	case err != nil:
		m.log.Warn().Err(err).Msg("saved session unreadable, starting fresh")
	default:
		m.restore(saved)
	}

	if m.st.SolveTime > 0 {
		m.setScene(FinishedTime)
	} else {
		m.setScene(WaitingForCompetitor)
	}
	m.markChanged()
}

func (m *Machine) restore(s Saved) {
	if s.CalibrationOffset > -3 && s.CalibrationOffset < 3 {
		m.st.CalibrationOffset = s.CalibrationOffset
	}

	age := time.Duration(m.epoch()-s.SaveTime.Unix()) * time.Second
	if age < 0 || age >= m.cfg.StaleAfter {
		m.log.Info().Dur("age", age).Msg("saved session is stale, starting fresh")
		return
	}

	m.st.SessionID = s.SessionID
	m.st.SolveTime = s.SolveTime
	m.st.LastSolveTime = s.SolveTime
	m.st.Penalty = s.Penalty
	m.st.CompetitorCardID = s.CompetitorCardID
	m.st.InspectionStarted = s.InspectionStarted
	m.st.InspectionEnded = s.InspectionEnded
	m.log.Info().
		Str("session_id", s.SessionID).
		Int64("solve_time", s.SolveTime).
		Uint64("competitor", s.CompetitorCardID).
		Msg("restored saved session")
}

func (m *Machine) save() {
	err := writeSnapshot(m.nv, Saved{
		SessionID:         m.st.SessionID,
		CompetitorCardID:  m.st.CompetitorCardID,
		InspectionStarted: m.st.InspectionStarted,
		InspectionEnded:   m.st.InspectionEnded,
		SaveTime:          time.Unix(m.epoch(), 0),
		SolveTime:         m.st.SolveTime,
		Penalty:           m.st.Penalty,
		CalibrationOffset: m.st.CalibrationOffset,
	})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to save session")
	}
}

// SetEpoch syncs the session clock to the backend (Unix seconds).
func (m *Machine) SetEpoch(serverSeconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochOffset = time.Duration(serverSeconds-m.now().Unix()) * time.Second
	m.epochSynced = true
	m.log.Debug().Dur("offset", m.epochOffset).Msg("clock synced")
}

// Epoch returns the current time in Unix seconds, corrected by the last
// backend sync.
func (m *Machine) Epoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch()
}

// EpochSynced reports whether SetEpoch has been called.
func (m *Machine) EpochSynced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochSynced
}

func (m *Machine) epoch() int64 {
	return m.now().Add(m.epochOffset).Unix()
}

func (m *Machine) nowMillis() int64 {
	return m.now().UnixMilli()
}

// Changed signals that the display should be redrawn. Signals coalesce.
func (m *Machine) Changed() <-chan struct{} {
	return m.changed
}

func (m *Machine) markChanged() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *Machine) setScene(s Scene) {
	if s == m.st.Scene {
		return
	}
	m.log.Debug().Stringer("from", m.st.Scene).Stringer("to", s).Msg("scene")
	metrics.RecordScene(s.String())
	m.st.Scene = s
	m.markChanged()
}

// State returns a copy of the session state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Scene returns the current scene.
func (m *Machine) Scene() Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Scene
}

// Live reports whether the display shows a running clock and needs
// redrawing without a Changed signal.
func (m *Machine) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.WaitingForSolve || m.st.WaitingForDelegate {
		return false
	}
	return m.st.Scene == Inspection || m.st.Scene == TimerTime
}

// SetConnectivity records timer and backend link state and requests a
// redraw when either changes.
func (m *Machine) SetConnectivity(timer, server bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer == m.timerConnected && server == m.serverConnected {
		return
	}
	m.timerConnected = timer
	m.serverConnected = server
	metrics.SetConnected(timer, server)
	m.markChanged()
}

// OnReading applies a decoded timer reading.
func (m *Machine) OnReading(r stackmat.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.st.LastTimerState
	m.timer = r
	if m.st.TestMode {
		return
	}
	// Readings not applied must not count as seen, or the first Running
	// frame after an error is mistaken for a repeat.
	if m.st.Scene == Error || m.st.Scene == NotInitialized {
		return
	}
	m.st.LastTimerState = r.State

	switch r.State {
	case stackmat.Running:
		if prev == stackmat.Running {
			return
		}
		m.stopInspection()
		switch {
		case m.st.Scene == WaitingForCompetitorWithTime:
			m.setScene(WaitingForCompetitor)
		case m.st.CompetitorCardID > 0 && m.st.Scene < TimerTime:
			m.setScene(TimerTime)
		}

	case stackmat.Stopped:
		if r.Millis == 0 {
			return
		}
		if m.st.CompetitorCardID > 0 {
			m.startSolveSession(r.Millis)
			return
		}
		if r.Millis != m.st.LastSolveTime && m.st.Scene == WaitingForCompetitor {
			m.setScene(WaitingForCompetitorWithTime)
		}

	case stackmat.Reset:
		if m.st.Scene == WaitingForCompetitorWithTime {
			m.setScene(WaitingForCompetitor)
		}
	}
}

// currentTime is the timer value the session acts on.
func (m *Machine) currentTime() int64 {
	if m.st.TestMode {
		return m.st.TestTime
	}
	return m.timer.Millis
}

func (m *Machine) linkUp() bool {
	return m.tr != nil && m.tr.Connected()
}

func (m *Machine) send(env *protocol.Envelope) error {
	if m.tr == nil {
		return errors.New("session: no transport")
	}
	return m.tr.Send(env)
}

// StartInspection starts the inspection clock. It is ignored once the
// session is at or past Inspection.
func (m *Machine) StartInspection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startInspection()
}

func (m *Machine) startInspection() {
	if m.st.Scene >= Inspection {
		return
	}
	m.st.InspectionStarted = m.nowMillis()
	m.st.InspectionEnded = 0
	m.setScene(Inspection)
}

// StopInspection ends a running inspection.
func (m *Machine) StopInspection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopInspection()
}

func (m *Machine) stopInspection() {
	if m.st.InspectionStarted == 0 || m.st.InspectionEnded != 0 {
		return
	}
	m.st.InspectionEnded = m.nowMillis()
	if m.st.CompetitorCardID > 0 {
		m.setScene(TimerTime)
	} else {
		m.setScene(WaitingForCompetitor)
	}
	m.markChanged()
}

// StartSolveSession opens a new solve session for a finished time. A time
// equal to the last one seen is ignored, so repeated stopped readings do not
// open several sessions.
func (m *Machine) StartSolveSession(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startSolveSession(ms)
}

func (m *Machine) startSolveSession(ms int64) {
	m.stopInspection()
	if ms == m.st.LastSolveTime {
		return
	}

	m.st.SessionID = m.newID()
	m.st.SolveTime = ms
	m.st.LastSolveTime = ms
	m.st.Penalty = PenaltyNone
	m.st.JudgeCardID = 0
	m.st.TimeConfirmed = false
	m.st.WaitingForSolve = false
	m.st.WaitingForDelegate = false
	m.setScene(FinishedTime)

	if m.st.InspectionStarted != 0 {
		insp := time.Duration(m.st.InspectionEnded-m.st.InspectionStarted) * time.Millisecond
		if p, ok := InspectionPenalty(insp); ok {
			m.st.Penalty = p
		}
	}

	m.log.Info().
		Str("session_id", m.st.SessionID).
		Int64("solve_time", ms).
		Int("penalty", m.st.Penalty).
		Msg("solve session started")
	m.markChanged()
	m.save()
}

// ResetSolveState clears the solve and returns to WaitingForCompetitor.
// A visible error stays up and dismissing it lands on the cleared solve.
// With save false the durable snapshot is left untouched.
func (m *Machine) ResetSolveState(save bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetSolveState(save)
}

func (m *Machine) resetSolveState(save bool) {
	m.st.SolveTime = 0
	m.st.Penalty = PenaltyNone
	m.st.CompetitorCardID = 0
	m.st.JudgeCardID = 0
	m.st.TimeConfirmed = false
	m.st.InspectionStarted = 0
	m.st.InspectionEnded = 0
	m.st.CompetitorDisplay = ""
	m.st.WaitingForSolve = false
	m.st.WaitingForDelegate = false
	if m.st.Scene == Error {
		m.st.SceneBeforeError = WaitingForCompetitor
	} else {
		m.setScene(WaitingForCompetitor)
	}
	m.markChanged()

	if save {
		m.save()
	}
}

// ShowError switches to the Error scene. The scene to return to is only
// recorded when not already showing an error.
func (m *Machine) ShowError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.showError(msg)
}

func (m *Machine) showError(msg string) {
	if m.st.Scene != Error {
		m.st.SceneBeforeError = m.st.Scene
	}
	m.st.ErrorMsg = truncate(msg, maxErrorLen)
	m.setScene(Error)
	m.markChanged()
	m.log.Warn().Str("error", m.st.ErrorMsg).Stringer("before", m.st.SceneBeforeError).Msg("showing error")
}

// DismissError restores the scene that was active before the error.
func (m *Machine) DismissError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dismissError()
}

func (m *Machine) dismissError() bool {
	if m.st.Scene != Error {
		return false
	}
	m.st.ErrorMsg = ""
	m.setScene(m.st.SceneBeforeError)
	return true
}

// SetUpdateProgress shows firmware update progress instead of the scene.
func (m *Machine) SetUpdateProgress(percent int, remaining int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update = &updateProgress{percent: percent, remaining: remaining}
	m.markChanged()
}

// ClearUpdate removes the update overlay.
func (m *Machine) ClearUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update = nil
	m.markChanged()
}

// Snapshot returns the session dump sent as telemetry. Display and memory
// fields are left for the caller.
func (m *Machine) Snapshot() protocol.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return protocol.Snapshot{
		EspID:             m.cfg.DeviceID,
		Scene:             int(m.st.Scene),
		SceneName:         m.st.Scene.String(),
		SolveSessionID:    m.st.SessionID,
		SolveTime:         m.st.SolveTime,
		LastSolveTime:     m.st.LastSolveTime,
		Penalty:           m.st.Penalty,
		UseInspection:     m.st.UseInspection,
		SecondaryText:     m.st.SecondaryText,
		InspectionStarted: m.st.InspectionStarted,
		InspectionEnded:   m.st.InspectionEnded,
		CompetitorCardID:  m.st.CompetitorCardID,
		JudgeCardID:       m.st.JudgeCardID,
		CompetitorDisplay: m.st.CompetitorDisplay,
		TimeConfirmed:     m.st.TimeConfirmed,
		TestMode:          m.st.TestMode,
		Added:             m.st.Added,
		ErrorMsg:          m.st.ErrorMsg,
	}
}
