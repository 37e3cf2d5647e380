// Package ota receives a firmware image streamed over the backend channel
// and installs it atomically.
package ota

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/sweeney/stackmat-terminal/internal/metrics"
)

var (
	ErrUpdateInProgress = errors.New("ota: update already in progress")
	ErrSameVersion      = errors.New("ota: image has the running version")
	ErrBadSize          = errors.New("ota: image size must be positive")
	ErrNoUpdate         = errors.New("ota: no update in progress")
	ErrOverflow         = errors.New("ota: more data than announced")
)

// Progress describes an update after a chunk was written.
type Progress struct {
	Percent   int
	Remaining int64
	Done      bool
}

// Option configures an Updater.
type Option func(*Updater)

// WithRestart sets the hook run after a complete image is installed.
func WithRestart(fn func()) Option {
	return func(u *Updater) { u.restart = fn }
}

// WithLogger sets the updater logger.
func WithLogger(l zerolog.Logger) Option {
	return func(u *Updater) { u.log = l }
}

// Updater writes one image at a time to target.
type Updater struct {
	mu      sync.Mutex
	target  string
	current string
	restart func()
	log     zerolog.Logger

	pending   *renameio.PendingFile
	version   string
	size      int64
	remaining int64
}

// New creates an updater that installs images at target. current is the
// running version.
func New(target, current string, opts ...Option) *Updater {
	u := &Updater{
		target:  target,
		current: current,
		restart: func() {},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Active reports whether an image is being received.
func (u *Updater) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pending != nil
}

// Start prepares to receive size bytes of version.
func (u *Updater) Start(version string, size int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch {
	case u.pending != nil:
		return ErrUpdateInProgress
	case version == u.current:
		return fmt.Errorf("%w: %s", ErrSameVersion, version)
	case size <= 0:
		return fmt.Errorf("%w: %d", ErrBadSize, size)
	}

	pf, err := renameio.NewPendingFile(u.target,
		renameio.WithTempDir(filepath.Dir(u.target)),
		renameio.WithPermissions(0o755))
	if err != nil {
		return fmt.Errorf("create pending image: %w", err)
	}
	u.pending = pf
	u.version = version
	u.size = size
	u.remaining = size
	u.log.Info().Str("version", version).Int64("size", size).Msg("update started")
	return nil
}

// Write appends a chunk. The final chunk installs the image and runs the
// restart hook. Any error abandons the update.
func (u *Updater) Write(chunk []byte) (Progress, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending == nil {
		return Progress{}, ErrNoUpdate
	}
	if int64(len(chunk)) > u.remaining {
		u.abort()
		return Progress{}, fmt.Errorf("%w: %d bytes with %d left", ErrOverflow, len(chunk), u.remaining)
	}
	if _, err := u.pending.Write(chunk); err != nil {
		u.abort()
		return Progress{}, fmt.Errorf("write image: %w", err)
	}
	u.remaining -= int64(len(chunk))
	metrics.OTABytesTotal.Add(float64(len(chunk)))

	p := Progress{
		Percent:   int((u.size - u.remaining) * 100 / u.size),
		Remaining: u.remaining,
	}
	if u.remaining > 0 {
		return p, nil
	}

	err := u.pending.CloseAtomicallyReplace()
	u.pending = nil
	if err != nil {
		return Progress{}, fmt.Errorf("install image: %w", err)
	}
	u.log.Info().Str("version", u.version).Str("path", u.target).Msg("update installed, restarting")
	p.Done = true
	u.restart()
	return p, nil
}

// Abort drops a partial image.
func (u *Updater) Abort() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.abort()
}

func (u *Updater) abort() {
	if u.pending == nil {
		return
	}
	if err := u.pending.Cleanup(); err != nil {
		u.log.Warn().Err(err).Msg("failed to remove partial image")
	}
	u.pending = nil
	u.log.Warn().Str("version", u.version).Msg("update abandoned")
}
