package session

import (
	"time"

	"github.com/sweeney/stackmat-terminal/internal/display"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
)

func centered(top, bottom string) []display.Request {
	return []display.Request{
		{Line: 0, Fill: true, Align: display.Center, Text: top},
		{Line: 1, Fill: true, Align: display.Center, Text: bottom},
	}
}

// Render returns the display requests for the current state. Overlays
// (update progress, unprovisioned device, lost links, pending replies) take
// precedence over the scene.
func (m *Machine) Render(now time.Time) []display.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &m.st

	if u := m.update; u != nil {
		return []display.Request{
			display.Printf(0, true, display.Left, "Updating (%d%%)", u.percent),
			display.Printf(1, true, display.Left, "Left: %d", u.remaining),
		}
	}

	if !st.Added && m.serverConnected {
		return centered("Device not added", "Press submit to connect")
	}

	if st.Scene >= WaitingForCompetitor && st.Scene <= WaitingForCompetitorWithTime && !st.TestMode {
		switch {
		case !m.serverConnected:
			return centered("Server", "Disconnected")
		case !m.timerConnected:
			return centered("Timer", "Disconnected")
		}
	}

	if st.DelegateHold > 0 {
		left := DelegateHoldTime - st.DelegateHold
		secs := max(int64((left+time.Second-1)/time.Second), 0)
		return []display.Request{
			{Line: 0, Fill: true, Align: display.Center, Text: "Delegate"},
			display.Printf(1, true, display.Center, "In %d", secs),
		}
	}

	switch {
	case st.WaitingForDelegate:
		return centered("Waiting for", "delegate")
	case st.WaitingForSolve:
		return centered("Sending", "result...")
	}

	switch st.Scene {
	case NotInitialized:
		return centered("Starting", "Syncing clock")

	case WaitingForCompetitor:
		return centered("Scan the card", "of a competitor")

	case WaitingForCompetitorWithTime:
		return centered("Scan the card", stackmat.FormatMillis(m.currentTime()))

	case CompetitorInfo:
		return centered(st.CompetitorDisplay, st.SecondaryText)

	case Inspection:
		elapsed := now.UnixMilli() - st.InspectionStarted
		return []display.Request{
			display.Printf(0, true, display.Center, "%d.%03d s", elapsed/1000, elapsed%1000),
			{Line: 1, Fill: true},
		}

	case TimerTime:
		return []display.Request{
			{Line: 0, Fill: true, Align: display.Center, Text: stackmat.FormatMillis(m.currentTime())},
			{Line: 1, Fill: true},
		}

	case FinishedTime:
		return m.renderFinished()

	case Error:
		return centered("Error", st.ErrorMsg)
	}
	return nil
}

func (m *Machine) renderFinished() []display.Request {
	st := &m.st
	var reqs []display.Request

	if st.SolveTime > 0 {
		t := stackmat.FormatMillis(st.SolveTime)
		insp := time.Duration(st.InspectionEnded-st.InspectionStarted) * time.Millisecond
		if st.InspectionStarted != 0 && insp >= InspectionTime {
			secs := int64(insp%time.Minute) / int64(time.Second)
			reqs = append(reqs, display.Printf(0, true, display.Left, "%s (%ds)", t, secs))
		} else {
			reqs = append(reqs, display.Request{Line: 0, Fill: true, Align: display.Left, Text: t})
		}
	} else {
		reqs = append(reqs, display.Request{Line: 0, Fill: true})
	}

	switch {
	case st.Penalty == PenaltyDNF:
		reqs = append(reqs, display.Request{Line: 0, Align: display.Right, Text: "DNF"})
	case st.Penalty == PenaltyDNS:
		reqs = append(reqs, display.Request{Line: 0, Align: display.Right, Text: "DNS"})
	case st.Penalty > 0:
		reqs = append(reqs, display.Printf(0, false, display.Right, "+%d", st.Penalty))
	}

	switch {
	case !st.TimeConfirmed:
		reqs = append(reqs, display.Request{Line: 1, Fill: true, Align: display.Right, Text: "Confirm the time"})
	case st.JudgeCardID == 0:
		reqs = append(reqs, display.Request{Line: 1, Fill: true, Align: display.Right, Text: "Scan the judge's card"})
	default:
		reqs = append(reqs, display.Request{Line: 1, Fill: true, Align: display.Right, Text: "Scan the competitor's card"})
	}
	return reqs
}
