package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/display"
	"github.com/sweeney/stackmat-terminal/internal/protocol"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
	"github.com/sweeney/stackmat-terminal/internal/store"
)

const testDevice uint32 = 0x1234

var errOffline = errors.New("offline")

type fakeTransport struct {
	mu        sync.Mutex
	sent      []*protocol.Envelope
	connected bool
	err       error
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v.(*protocol.Envelope))
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) solves() []*protocol.Solve {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Solve
	for _, env := range f.sent {
		if env.Solve != nil {
			out = append(out, env.Solve)
		}
	}
	return out
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

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	m   *Machine
	tr  *fakeTransport
	nv  *store.Memory
	clk *fakeClock
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
	return newHarnessWithStore(t, store.NewMemory(store.DefaultSize))
}

func newHarnessWithStore(t *testing.T, nv *store.Memory) *harness {
	t.Helper()
	h := &harness{
		tr:  &fakeTransport{connected: true},
		nv:  nv,
		clk: &fakeClock{t: time.Unix(1_700_000_000, 0)},
	}
	h.m = New(Config{DeviceID: testDevice}, Deps{
		Transport:    h.tr,
		Store:        nv,
		Now:          h.clk.Now,
		NewSessionID: sequentialIDs(),
		Logger:       zerolog.Nop(),
	})
	return h
}

// ready returns an initialized machine with both links up.
func ready(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.m.Init()
	h.m.SetConnectivity(true, true)
	h.m.OnReading(stackmat.Reading{State: stackmat.Reset, Updated: h.clk.Now()})
	return h
}

func (h *harness) competitor(cardID uint64, name string) {
	h.m.HandleCardInfo(&protocol.CardInfoResponse{CardID: cardID, Display: name, CanCompete: true})
}

func (h *harness) reading(state stackmat.State, ms int64) {
	h.m.OnReading(stackmat.Reading{State: state, Millis: ms, Updated: h.clk.Now()})
}

// finished drives a competitor through a stopped time.
func finished(t *testing.T, ms int64) *harness {
	t.Helper()
	h := ready(t)
	h.competitor(1001, "Alice")
	h.reading(stackmat.Running, 0)
	h.reading(stackmat.Stopped, ms)
	if got := h.m.Scene(); got != FinishedTime {
		t.Fatalf("scene = %v, want FinishedTime", got)
	}
	return h
}

func (h *harness) lines() [display.Height]string {
	buf := display.NewBuffer()
	for _, req := range h.m.Render(h.clk.Now()) {
		buf.Apply(req)
	}
	return buf.Lines()
}

func (h *harness) trimmed() [display.Height]string {
	l := h.lines()
	return [display.Height]string{strings.TrimSpace(l[0]), strings.TrimSpace(l[1])}
}

func cardInfo(id uint64) *protocol.CardInfoResponse {
	return &protocol.CardInfoResponse{CardID: id}
}
