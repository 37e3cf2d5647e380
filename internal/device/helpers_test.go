package device

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/stackmat-terminal/internal/gpio"
	"github.com/sweeney/stackmat-terminal/internal/mqtt"
	"github.com/sweeney/stackmat-terminal/internal/ota"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
	"github.com/sweeney/stackmat-terminal/internal/session"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
	"github.com/sweeney/stackmat-terminal/internal/status"
	"github.com/sweeney/stackmat-terminal/internal/store"
)

const testDevice uint32 = 0x1234

var testPins = Pins{
	Penalty:    gpio.DefaultPinPenalty,
	Submit:     gpio.DefaultPinSubmit,
	Inspection: gpio.DefaultPinInspection,
	Delegate:   gpio.DefaultPinDelegate,
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeLink struct {
	mu        sync.Mutex
	connected bool
	sent      []*protocol.Envelope
	binary    [][]byte
	err       error
}

func (f *fakeLink) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	env, ok := v.(*protocol.Envelope)
	if !ok {
		return fmt.Errorf("unexpected message %T", v)
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeLink) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLink) solves() []*protocol.Solve {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Solve
	for _, e := range f.sent {
		if e.Solve != nil {
			out = append(out, e.Solve)
		}
	}
	return out
}

func (f *fakeLink) kinds() []protocol.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Kind
	for _, e := range f.sent {
		k, _ := e.Kind()
		out = append(out, k)
	}
	return out
}

type fakeTimer struct{ up bool }

func (f *fakeTimer) Connected(time.Time) bool { return f.up }

type fakeUpdater struct {
	active   bool
	version  string
	size     int64
	written  int64
	startErr error
	writeErr error
	aborted  bool
}

func (f *fakeUpdater) Active() bool { return f.active }

func (f *fakeUpdater) Start(version string, size int64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	f.version = version
	f.size = size
	return nil
}

func (f *fakeUpdater) Write(chunk []byte) (ota.Progress, error) {
	if f.writeErr != nil {
		f.active = false
		return ota.Progress{}, f.writeErr
	}
	f.written += int64(len(chunk))
	p := ota.Progress{
		Percent:   int(f.written * 100 / f.size),
		Remaining: f.size - f.written,
	}
	if p.Remaining == 0 {
		f.active = false
		p.Done = true
	}
	return p, nil
}

func (f *fakeUpdater) Abort() {
	f.active = false
	f.aborted = true
}

type harness struct {
	term    *Terminal
	pins    *gpio.FakePins
	link    *fakeLink
	timer   *fakeTimer
	upd     *fakeUpdater
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	clk     *fakeClock
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pins:  gpio.NewFakePins(),
		link:  &fakeLink{connected: true},
		timer: &fakeTimer{up: true},
		upd:   &fakeUpdater{},
		pub:   mqtt.NewFakePublisher(),
		clk:   &fakeClock{t: time.Unix(1_700_000_000, 0)},
	}
	h.tracker = status.NewTracker(h.clk.Now(), status.Config{DeviceID: testDevice})
	h.term = New(Config{
		DeviceID:  testDevice,
		Pins:      testPins,
		Heartbeat: time.Minute,
	}, Deps{
		Pins:         h.pins,
		Store:        store.NewMemory(store.DefaultSize),
		Timer:        h.timer,
		Updater:      h.upd,
		Publisher:    h.pub,
		MQTTStatus:   h.pub,
		Tracker:      h.tracker,
		Now:          h.clk.Now,
		Sleep:        h.clk.Sleep,
		NewSessionID: sequentialIDs(),
		Logger:       zerolog.Nop(),
	})
	h.term.Attach(h.link)
	return h
}

// ready returns a terminal past boot with both links up.
func ready(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.inbound(t, &protocol.Envelope{EpochTime: &protocol.EpochTime{CurrentEpoch: h.clk.Now().Unix()}})
	h.term.Session().SetConnectivity(true, true)
	h.reading(stackmat.Reset, 0)
	require.Equal(t, session.WaitingForCompetitor, h.term.Session().Scene())
	return h
}

// finished drives competitor 1001 through a stopped time of ms.
func finished(t *testing.T, ms int64) *harness {
	t.Helper()
	h := ready(t)
	h.card(t, 1001, "Alice")
	h.reading(stackmat.Running, 0)
	h.reading(stackmat.Stopped, ms)
	require.Equal(t, session.FinishedTime, h.term.Session().Scene())
	return h
}

func (h *harness) inbound(t *testing.T, env *protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	h.term.HandleText(data)
}

func (h *harness) card(t *testing.T, id uint64, name string) {
	t.Helper()
	h.inbound(t, &protocol.Envelope{CardInfoResponse: &protocol.CardInfoResponse{
		CardID:     id,
		Display:    name,
		CanCompete: true,
	}})
}

func (h *harness) reading(state stackmat.State, ms int64) {
	h.term.OnReading(stackmat.Reading{State: state, Millis: ms, Updated: h.clk.Now()})
}
