package worker

import (
	"context"
	"sync"

	"github.com/grailbio/base/digest"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
)

// Local is an in-process Worker, grounded in the teacher's local.go
// executor: it moves a task's inputs on one goroutine per input and
// runs the task synchronously on the caller's goroutine (real concurrency comes from
// the scheduler dispatching many Local workers' DoTask calls from its
// own goroutines), and keeps produced chunks in a plain map plus an
// LRU keep-alive registry for cache=true, cache-evicted data.
type Local struct {
	id  affinity.Worker
	Log *log.Logger

	mu    sync.Mutex
	store map[digest.Digest]values.T

	keepAlive *lru.Cache[digest.Digest, values.T]
}

// NewLocal constructs a Local worker identified by id, with a
// keep-alive registry bounded to keepAliveSize entries (spec §4.6
// "cache=true" Free path).
func NewLocal(id affinity.Worker, keepAliveSize int) *Local {
	if keepAliveSize <= 0 {
		keepAliveSize = 256
	}
	c, err := lru.New[digest.Digest, values.T](keepAliveSize)
	if err != nil {
		// Only returns an error for a non-positive size, excluded above.
		panic(err)
	}
	return &Local{id: id, Log: log.Std, store: make(map[digest.Digest]values.T), keepAlive: c}
}

func (w *Local) ID() affinity.Worker { return w.id }

// Move implements _move (spec §4.5 step 1): an AbstractChunk local to
// this worker (or resident in its keep-alive registry) is returned
// from the local store; for any other AbstractChunk Move returns an
// errors.Net error, since Local has no path to fetch data from another
// worker. A plain value passes through unchanged.
func (w *Local) Move(ctx context.Context, dst affinity.Worker, x thunk.Input) (values.T, error) {
	ac, ok := x.(chunk.AbstractChunk)
	if !ok {
		return x, nil
	}
	key := ac.Digest()
	w.mu.Lock()
	v, ok := w.store[key]
	if !ok {
		if cv, hit := w.keepAlive.Get(key); hit {
			v, ok = cv, true
			w.store[key] = v
		}
	}
	w.mu.Unlock()
	if ok {
		return v, nil
	}
	if c, ok := ac.(*chunk.Chunk); ok && c.Worker == dst {
		// The chunk claims to live here but isn't in the store: it was
		// freed without force and without caching.
		return nil, errors.E("Move", errors.Net, errors.Errorf("chunk %s no longer resident on worker %s", ac, dst))
	}
	return nil, errors.E("Move", errors.Net, errors.Errorf("chunk %s is not resident on worker %s and no remote fetch path is configured", ac, dst))
}

// DoTask implements do_task (spec §4.5): it moves each input
// concurrently -- grounded in the teacher's executor.go install, which
// fans independent fetches out over an errgroup -- then invokes req.F,
// capturing panics and errors via runTask.
func (w *Local) DoTask(ctx context.Context, req TaskRequest) TaskReply {
	fetched := make([]values.T, len(req.Data))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range req.Data {
		i, in := i, in
		g.Go(func() error {
			v, err := w.Move(gctx, w.id, in)
			if err != nil {
				return err
			}
			fetched[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TaskReply{WorkerID: w.id, ThunkID: req.ThunkID, Err: errors.Recover(errors.E("do_task", errors.Net, err))}
	}
	reply := runTask(ctx, w.id, req, fetched)
	if reply.Chunk != nil {
		key := reply.Chunk.Digest()
		v := chunkValue(reply.Chunk)
		w.mu.Lock()
		w.store[key] = v
		w.mu.Unlock()
	}
	return reply
}

// chunkValue extracts the value backing a *chunk.Chunk so Local can
// hold it in its own store; Local is the only Worker implementation
// that needs to see through the AbstractChunk wrapper it just created.
func chunkValue(ac chunk.AbstractChunk) values.T {
	if c, ok := ac.(*chunk.Chunk); ok {
		return c.Value
	}
	return nil
}

// Unrelease implements the cache-hit short-circuit's worker-side check
// (spec §4.3): it reports whether c is still resident, bumping its
// keep-alive recency if so.
func (w *Local) Unrelease(ctx context.Context, c chunk.AbstractChunk) (ok bool) {
	key := c.Digest()
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, hit := w.store[key]; hit {
		w.keepAlive.Add(key, v)
		return true
	}
	if v, hit := w.keepAlive.Get(key); hit {
		w.store[key] = v
		return true
	}
	return false
}

// Free implements free! at the worker level (spec §4.6): a persisted
// chunk is retained unless force is set; otherwise storage is either
// dropped or, if cache is true, demoted to the keep-alive registry.
func (w *Local) Free(ctx context.Context, c chunk.AbstractChunk, force, cache bool) error {
	ch, _ := c.(*chunk.Chunk)
	if ch != nil && ch.Persisted && !force {
		return nil
	}
	key := c.Digest()
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.store[key]
	if !ok {
		return nil
	}
	delete(w.store, key)
	if cache {
		w.keepAlive.Add(key, v)
	}
	return nil
}
