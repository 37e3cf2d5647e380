package session

import "time"

// The methods below back the physical buttons. Each reports whether it
// changed anything, so a hold action can cancel the release action of the
// same press.

func (m *Machine) editable() bool {
	return m.st.Scene == FinishedTime &&
		!m.st.TimeConfirmed &&
		!m.st.WaitingForSolve &&
		!m.st.WaitingForDelegate
}

// CyclePenalty steps the penalty through none, +2 ... +16.
func (m *Machine) CyclePenalty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.editable() {
		return false
	}
	m.st.Penalty = NextPenalty(m.st.Penalty)
	m.markChanged()
	return true
}

// ToggleDNF switches between DNF and no penalty.
func (m *Machine) ToggleDNF() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.editable() {
		return false
	}
	if m.st.Penalty == PenaltyDNF {
		m.st.Penalty = PenaltyNone
	} else {
		m.st.Penalty = PenaltyDNF
	}
	m.markChanged()
	return true
}

// ConfirmTime marks the finished time as accepted by the competitor.
func (m *Machine) ConfirmTime() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmTime()
}

func (m *Machine) confirmTime() bool {
	if !m.editable() {
		return false
	}
	m.st.TimeConfirmed = true
	m.log.Info().Str("session_id", m.st.SessionID).Msg("time confirmed")
	m.markChanged()
	return true
}

// Submit is the submit button: it dismisses an error, otherwise confirms
// the time.
func (m *Machine) Submit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dismissError() {
		return true
	}
	return m.confirmTime()
}

// ToggleInspection starts inspection, or stops it if it is running. It
// does nothing when inspection is disabled for this device.
func (m *Machine) ToggleInspection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Scene == Inspection {
		m.stopInspection()
		return true
	}
	if !m.st.UseInspection || m.st.Scene >= Inspection {
		return false
	}
	m.startInspection()
	return true
}

func (m *Machine) canCallDelegate() bool {
	return m.st.Scene >= CompetitorInfo &&
		m.st.Scene != Error &&
		!m.st.WaitingForDelegate
}

// SetDelegateHold updates the delegate countdown while the button is held.
// Zero clears it.
func (m *Machine) SetDelegateHold(held time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held > 0 && !m.canCallDelegate() {
		return
	}
	if m.st.DelegateHold == held {
		return
	}
	m.st.DelegateHold = held
	m.markChanged()
}

// CallDelegate escalates the solve to a delegate: inspection stops and a
// delegate solve is sent. Drawing is blocked until the delegate answers.
func (m *Machine) CallDelegate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.DelegateHold = 0
	if !m.canCallDelegate() {
		return false
	}
	m.stopInspection()
	m.log.Info().Str("session_id", m.st.SessionID).Msg("delegate called")
	m.sendSolve(true)
	m.markChanged()
	return true
}

// ResetCompetitor forgets the competitor before their solve has started.
func (m *Machine) ResetCompetitor() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Scene != CompetitorInfo && m.st.Scene != Inspection {
		return false
	}
	m.log.Info().Uint64("competitor", m.st.CompetitorCardID).Msg("competitor reset")
	m.st.CompetitorCardID = 0
	m.st.CompetitorDisplay = ""
	m.st.InspectionStarted = 0
	m.st.InspectionEnded = 0
	m.setScene(WaitingForCompetitor)
	m.markChanged()
	return true
}

// StartTestMode hands the timer over to the remote test driver.
func (m *Machine) StartTestMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.TestMode = true
	m.st.LastSolveTime = -1
	m.log.Info().Msg("test mode started")
	m.markChanged()
}

// EndTestMode returns to the physical timer and resets the session.
func (m *Machine) EndTestMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.TestMode = false
	m.log.Info().Msg("test mode ended")
	m.resetSolveState(true)
}

// TestSolveTime feeds a finished time from the test driver.
func (m *Machine) TestSolveTime(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.TestTime = ms
	if m.st.CompetitorCardID > 0 {
		m.startSolveSession(ms)
		return
	}
	m.setScene(WaitingForCompetitorWithTime)
	m.markChanged()
}
