// Package runctx defines Context, the scheduler's ambient
// configuration (spec §3): the list of available workers, the
// logging sink, profiling flags, and the per-Context stager
// memoization cache. It is a small package that depends on neither
// stage nor compute (mirroring the teacher's flow.Context) so that
// both of them can depend on it without a cycle.
package runctx

import (
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/digest"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/log"
)

// Context is the ambient configuration under which a compute runs. It
// is the key for the per-Context stager cache (spec §4.1): staging
// the same Computation twice under the same Context returns the same
// node, but two different Contexts never share cached nodes.
type Context struct {
	// Workers lists the workers available for dispatch.
	Workers []affinity.Worker
	// Log receives DebugCompute's timing diagnostics. The scheduler
	// and workers log through their own Log fields, not this one.
	Log *log.Logger
	// Profile, if set, causes DebugCompute to log the compute call's
	// total elapsed time to Log at DebugLevel.
	Profile bool

	// generation is bumped by Close, which invalidates the stage
	// cache in lieu of true weak-reference semantics (design note
	// "weak-keyed context cache": a Context's destruction evicts its
	// cache without requiring the cache to pin the Context alive).
	generation int64

	mu    sync.Mutex
	cache map[digest.Digest]cacheEntry
}

type cacheEntry struct {
	generation int64
	value      interface{}
}

// New returns a new Context with the given workers.
func New(workers ...affinity.Worker) *Context {
	return &Context{
		Workers: workers,
		Log:     log.Std,
		cache:   make(map[digest.Digest]cacheEntry),
	}
}

// Close invalidates this Context's stage cache. Subsequent Compute
// calls using this Context re-stage their Computations from scratch.
// Close is idempotent.
func (c *Context) Close() {
	atomic.AddInt64(&c.generation, 1)
}

// StageCacheLookup implements the memoized half of cached_stage
// (spec §4.1): it returns the previously staged value for key, if one
// was stored in the current generation.
func (c *Context) StageCacheLookup(key digest.Digest) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || e.generation != atomic.LoadInt64(&c.generation) {
		return nil, false
	}
	return e.value, true
}

// StageCacheStore stores the staged value for key in the current
// generation, implementing the "on miss, invoke stage and store" half
// of cached_stage.
func (c *Context) StageCacheStore(key digest.Digest, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{generation: atomic.LoadInt64(&c.generation), value: value}
}

// HasWorker reports whether w is among this Context's live workers.
func (c *Context) HasWorker(w affinity.Worker) bool {
	for _, have := range c.Workers {
		if have == w {
			return true
		}
	}
	return false
}
