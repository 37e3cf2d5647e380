package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/logic"
	"github.com/sweeney/stackmat-terminal/internal/metrics"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
	"github.com/sweeney/stackmat-terminal/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		DeviceID:    4660,
		Version:     "1.0.0",
		BackendURL:  "ws://192.168.1.10:8080/api/device",
		DebounceMs:  250,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":80",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.StateUp, logic.StateDown, true, logic.EventCounts{TimerUp: 5, Scenes: 2})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if sj.Status.Timer != "UP" {
		t.Errorf("Timer: got %q, want UP", sj.Status.Timer)
	}
	if sj.Status.Server != "DOWN" {
		t.Errorf("Server: got %q, want DOWN", sj.Status.Server)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.DeviceID != 4660 {
		t.Errorf("DeviceID: got %d, want 4660", sj.Status.DeviceID)
	}
	if sj.Status.Counts.TimerUp != 5 {
		t.Errorf("Counts.TimerUp: got %d, want 5", sj.Status.Counts.TimerUp)
	}
	if sj.Status.Config.BackendURL != "ws://192.168.1.10:8080/api/device" {
		t.Errorf("Config.BackendURL: got %q", sj.Status.Config.BackendURL)
	}
}

func TestJSONUnknownStateBeforeBaseline(t *testing.T) {
	ts, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Timer != "UNKNOWN" {
		t.Errorf("Timer before baseline: got %q, want UNKNOWN", sj.Status.Timer)
	}
	if sj.Status.Server != "UNKNOWN" {
		t.Errorf("Server before baseline: got %q, want UNKNOWN", sj.Status.Server)
	}
}

func TestJSONSessionAndDisplay(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSession(protocol.Snapshot{SceneName: "FinishedTime", SolveTime: 12345, Penalty: 2})
	tr.SetDisplay([2]string{"12.345        +2", "Confirm the time"})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Session.SolveTime != 12345 {
		t.Errorf("Session.SolveTime: got %d", sj.Status.Session.SolveTime)
	}
	if sj.Status.Display[0] != "12.345        +2" {
		t.Errorf("Display[0]: got %q", sj.Status.Display[0])
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.StateUp, logic.StateUp, true, logic.EventCounts{})
	tr.SetSession(protocol.Snapshot{SceneName: "CompetitorInfo", CompetitorDisplay: "Alice", CompetitorCardID: 1001, Penalty: -1})
	tr.SetDisplay([2]string{"Alice", "Poland"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"CompetitorInfo", "Alice (1001)", "DNF", "Stackmat Terminal 4660"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	metrics.RecordScene("Inspection")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "stackmat_scene_transitions_total") {
		t.Error("metrics output missing scene transition counter")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/index.json", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	if getJSON(t, ts.URL+"/index.json").Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.Update(logic.StateDown, logic.StateUp, true, logic.EventCounts{ServerUp: 1})
	tr.SetMQTTConnected(true)

	sj := getJSON(t, ts.URL+"/index.json")
	if !sj.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if sj.Status.Server != "UP" {
		t.Errorf("Server: got %q, want UP", sj.Status.Server)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
