package session

import (
	"github.com/sweeney/stackmat-terminal/internal/metrics"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
)

// ScanCard asks the backend who owns cardID. The answer arrives through
// HandleCardInfo.
func (m *Machine) ScanCard(cardID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCard(cardID)
}

func (m *Machine) scanCard(cardID uint64) {
	m.log.Info().Uint64("card_id", cardID).Msg("card scanned")
	err := m.send(&protocol.Envelope{CardInfoRequest: &protocol.CardInfoRequest{
		CardID: cardID,
		EspID:  m.cfg.DeviceID,
	}})
	if err != nil {
		m.log.Warn().Err(err).Msg("card info request not sent")
		m.showError(NotConnectedMessage)
	}
}

// HandleCardInfo applies a card resolution. While waiting for a competitor
// the first card allowed to compete becomes the competitor. On a finished
// time a different card becomes the judge once the time is confirmed, and
// the competitor card scanned again after that submits the solve.
func (m *Machine) HandleCardInfo(r *protocol.CardInfoResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.markChanged()

	switch m.st.Scene {
	case WaitingForCompetitor, WaitingForCompetitorWithTime:
		if !m.linkUp() || (!m.timerConnected && !m.st.TestMode) {
			m.log.Debug().Uint64("card_id", r.CardID).Msg("card ignored while disconnected")
			return
		}
		if m.st.CompetitorCardID != 0 {
			return
		}
		if !r.CanCompete {
			m.log.Info().Uint64("card_id", r.CardID).Msg("card cannot compete")
			return
		}

		m.st.CompetitorDisplay = truncate(r.Display, maxDisplayLen)
		m.st.CompetitorCardID = r.CardID
		m.setScene(CompetitorInfo)

		t := m.currentTime()
		if m.st.SolveTime == t {
			return
		}
		if m.st.UseInspection {
			m.stopInspection()
		}
		if m.st.LastTimerState == stackmat.Stopped || m.st.TestMode {
			m.startSolveSession(t)
		} else {
			m.setScene(TimerTime)
		}

	case FinishedTime:
		switch {
		case m.st.CompetitorCardID != r.CardID && m.st.TimeConfirmed:
			m.st.JudgeCardID = r.CardID
			m.log.Info().Uint64("judge", r.CardID).Msg("judge recorded")
		case m.st.JudgeCardID > 0 && m.st.CompetitorCardID == r.CardID:
			m.sendSolve(false)
		}
	}
}

// HandleSolveConfirm resets the session when the confirmation matches it.
func (m *Machine) HandleSolveConfirm(c *protocol.SolveConfirm) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.CompetitorID != m.st.CompetitorCardID ||
		c.EspID != m.cfg.DeviceID ||
		c.SessionID != m.st.SessionID {
		m.log.Warn().
			Uint64("competitor_id", c.CompetitorID).
			Uint32("esp_id", c.EspID).
			Str("session_id", c.SessionID).
			Msg("solve confirm does not match the live session, discarding")
		metrics.RecordDiscarded(string(protocol.KindSolveConfirm))
		return
	}
	m.log.Info().Str("session_id", c.SessionID).Msg("solve confirmed")
	m.resetSolveState(true)
}

// HandleDelegateResponse applies a delegate decision.
func (m *Machine) HandleDelegateResponse(r *protocol.DelegateResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.EspID != m.cfg.DeviceID {
		m.log.Warn().Uint32("esp_id", r.EspID).Msg("delegate response for another device, discarding")
		metrics.RecordDiscarded(string(protocol.KindDelegateResponse))
		return
	}
	if r.SolveTime != nil {
		m.st.SolveTime = *r.SolveTime
	}
	if r.Penalty != nil {
		m.st.Penalty = *r.Penalty
	}
	m.st.TimeConfirmed = true

	if r.ShouldScanCards {
		m.st.WaitingForDelegate = false
		m.setScene(FinishedTime)
		m.markChanged()
		return
	}
	m.resetSolveState(true)
}

// HandleDeviceSettings applies a configuration push.
func (m *Machine) HandleDeviceSettings(s *protocol.DeviceSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.EspID != m.cfg.DeviceID {
		m.log.Warn().Uint32("esp_id", s.EspID).Msg("device settings for another device, discarding")
		metrics.RecordDiscarded(string(protocol.KindDeviceSettings))
		return
	}
	if s.UseInspection != nil {
		m.st.UseInspection = *s.UseInspection
	}
	if s.SecondaryText != nil {
		m.st.SecondaryText = truncate(*s.SecondaryText, maxSecondaryLen)
	}
	m.st.Added = s.Added
	m.log.Info().
		Bool("use_inspection", m.st.UseInspection).
		Str("secondary_text", m.st.SecondaryText).
		Bool("added", m.st.Added).
		Msg("device settings applied")
	m.markChanged()
}

// HandleAPIError shows a backend error, optionally resetting the solve first.
func (m *Machine) HandleAPIError(e *protocol.APIError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.EspID != m.cfg.DeviceID {
		m.log.Warn().Uint32("esp_id", e.EspID).Msg("api error for another device, discarding")
		metrics.RecordDiscarded(string(protocol.KindAPIError))
		return
	}
	m.log.Warn().Str("error", e.Error).Bool("reset", e.ShouldResetTime).Msg("backend error")
	if e.ShouldResetTime {
		m.resetSolveState(true)
	}
	m.showError(e.Error)
	m.st.WaitingForSolve = false
	m.st.WaitingForDelegate = false
}

// HandleDisconnected reacts to losing the backend link. A pending solve or
// delegate call can no longer be answered, so it surfaces as an error.
func (m *Machine) HandleDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.WaitingForSolve || m.st.WaitingForDelegate {
		m.showError(NotConnectedMessage)
		m.st.WaitingForSolve = false
		m.st.WaitingForDelegate = false
	}
	m.markChanged()
}

// sendSolve submits the current solve. A delegate submission gets a fresh
// session id.
func (m *Machine) sendSolve(delegate bool) {
	if delegate {
		m.st.SessionID = m.newID()
	}

	err := m.send(&protocol.Envelope{Solve: &protocol.Solve{
		SolveTime:      m.st.SolveTime,
		Penalty:        m.st.Penalty,
		CompetitorID:   m.st.CompetitorCardID,
		JudgeID:        m.st.JudgeCardID,
		EspID:          m.cfg.DeviceID,
		Timestamp:      m.epoch(),
		SessionID:      m.st.SessionID,
		Delegate:       delegate,
		InspectionTime: m.st.InspectionEnded - m.st.InspectionStarted,
	}})
	if err != nil {
		m.log.Warn().Err(err).Bool("delegate", delegate).Msg("solve not sent")
		m.showError(NotConnectedMessage)
		return
	}

	metrics.RecordSolve(m.st.SolveTime, delegate)
	m.log.Info().
		Str("session_id", m.st.SessionID).
		Int64("solve_time", m.st.SolveTime).
		Bool("delegate", delegate).
		Msg("solve sent")
	if delegate {
		m.st.WaitingForDelegate = true
	} else {
		m.st.WaitingForSolve = true
	}
	m.markChanged()
}
