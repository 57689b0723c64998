// Package lifetime implements reference-counted lifetime management
// over chunks (spec §4.6): persist!, free!, and a background reaper
// that lets finalizers hand off their work without blocking the
// goroutine that triggered them, grounded in the teacher's
// writer-list incr/decr bookkeeping and its wakeup-channel pattern for
// deferring work to a single dedicated loop (flow/eval.go).
package lifetime

import (
	"context"
	"sync"

	"github.com/grailbio/base/digest"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/worker"
)

// Manager tracks reference counts for chunks produced during a
// compute invocation and reclaims them via their owning Worker once
// their count reaches zero (spec §4.6 "reference-counted lifetime").
type Manager struct {
	Log *log.Logger

	mu    sync.Mutex
	refs  map[digest.Digest]int
	owner map[digest.Digest]worker.Worker

	reaper *Reaper
}

// NewManager constructs a Manager that hands deferred frees to reaper.
// If reaper is nil, frees run synchronously on the calling goroutine.
func NewManager(reaper *Reaper) *Manager {
	return &Manager{
		Log:    log.Std,
		refs:   make(map[digest.Digest]int),
		owner:  make(map[digest.Digest]worker.Worker),
		reaper: reaper,
	}
}

// Incr registers one more live consumer of c, owned by w (spec §4.6
// "every chunk's reference count starts at the number of Thunks that
// list it as an input").
func (m *Manager) Incr(c chunk.AbstractChunk, w worker.Worker) {
	d := c.Digest()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[d]++
	if _, ok := m.owner[d]; !ok {
		m.owner[d] = w
	}
}

// Decr records that one consumer of c has finished with it. If the
// count reaches zero and c is not persisted, its storage is released
// (spec §4.6 "free! on zero"). The free itself is handed to the
// Manager's Reaper if one is configured, so Decr never blocks on
// worker I/O.
func (m *Manager) Decr(ctx context.Context, c chunk.AbstractChunk, persisted bool) {
	d := c.Digest()
	m.mu.Lock()
	m.refs[d]--
	n := m.refs[d]
	w := m.owner[d]
	if n <= 0 {
		delete(m.refs, d)
		delete(m.owner, d)
	}
	m.mu.Unlock()
	if n > 0 || w == nil || persisted {
		return
	}
	m.free(ctx, w, c, persisted)
}

func (m *Manager) free(ctx context.Context, w worker.Worker, c chunk.AbstractChunk, persisted bool) {
	if m.reaper != nil {
		m.reaper.Submit(func() { m.doFree(ctx, w, c, persisted) })
		return
	}
	m.doFree(ctx, w, c, persisted)
}

func (m *Manager) doFree(ctx context.Context, w worker.Worker, c chunk.AbstractChunk, persisted bool) {
	if err := Free(ctx, w, c, false, persisted); err != nil {
		m.Log.Errorf("free %s: %v", c, err)
	}
}

// Persist marks c so that a subsequent Free with force=false is a
// no-op (spec §4.6 "persist!"): it is implemented by setting the
// underlying *chunk.Chunk's Persisted flag directly, since
// lattice-level persistence is a property of the chunk handle rather
// than of any one worker's storage.
func Persist(c chunk.AbstractChunk) error {
	ch, ok := c.(*chunk.Chunk)
	if !ok {
		return errors.E("lifetime.Persist", errors.Invalid, errors.Errorf("%T is not persistable", c))
	}
	ch.Persisted = true
	return nil
}

// Free implements free!(chunk, force, cache) (spec §4.6): it delegates
// to w.Free, which itself honors a persisted chunk unless force is
// set, and demotes the chunk to a keep-alive registry rather than
// discarding it outright when cache is true.
func Free(ctx context.Context, w worker.Worker, c chunk.AbstractChunk, force, cache bool) error {
	if w == nil {
		return errors.E("lifetime.Free", errors.Invalid, errors.New("no owning worker known for chunk"))
	}
	return w.Free(ctx, c, force, cache)
}
