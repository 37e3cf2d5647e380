package gpio

import (
	"fmt"
	"sync"
)

// FakePins is a test double whose pin levels are set by the test.
// Pins that were never set read as inactive.
type FakePins struct {
	mu     sync.Mutex
	active map[int]bool

	// Script, if set, overrides the stored levels. It is called on every read.
	Script func(pin int) bool

	// ReadError, if set, will be returned by Active.
	ReadError error

	// Reads counts calls to Active.
	Reads int

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePins creates FakePins with the given pins active.
func NewFakePins(active ...int) *FakePins {
	f := &FakePins{active: make(map[int]bool)}
	for _, p := range active {
		f.active[p] = true
	}
	return f
}

// Set changes the level of pin.
func (f *FakePins) Set(pin int, active bool) {
	f.mu.Lock()
	f.active[pin] = active
	f.mu.Unlock()
}

// Active returns the scripted or stored level of pin.
func (f *FakePins) Active(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.ReadError != nil {
		return false, fmt.Errorf("pin %d: %w", pin, f.ReadError)
	}
	if f.Script != nil {
		return f.Script(pin), nil
	}
	return f.active[pin], nil
}

// Close marks the fake as closed.
func (f *FakePins) Close() error {
	f.Closed = true
	return nil
}
