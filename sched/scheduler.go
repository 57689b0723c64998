// Package sched implements the ready-queue scheduler state machine
// (spec §4.3): it turns a Thunk DAG into a sequence of worker
// dispatches, tracking dependents, per-node waiting sets, a ready
// list, and the running set, driven by a single completion channel --
// the teacher's select-loop-over-channels pattern (sched.Scheduler.Do,
// flow.Eval.wait/step), adapted from allocation over a elastic
// cluster to affinity-aware dispatch over a fixed worker set.
package sched

import (
	"context"
	"fmt"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/graph"
	"github.com/latticerun/lattice/lifetime"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/metrics"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
	"github.com/latticerun/lattice/worker"
)

// Scheduler dispatches a single Thunk DAG across a fixed set of
// workers (spec §4.3). It is not safe for concurrent use by multiple
// goroutines; each call to Run owns the Scheduler until it returns.
type Scheduler struct {
	Workers []worker.Worker
	Log     *log.Logger

	owners map[affinity.Worker]worker.Worker
}

// New constructs a Scheduler dispatching across workers.
func New(workers ...worker.Worker) *Scheduler {
	owners := make(map[affinity.Worker]worker.Worker, len(workers))
	for _, w := range workers {
		owners[w.ID()] = w
	}
	return &Scheduler{Workers: workers, Log: log.Std, owners: owners}
}

// result is what the scheduler retains for each finished Thunk: either
// a raw value (GetResult) or a chunk handle.
type result struct {
	HasValue bool
	Value    values.T
	Chunk    chunk.AbstractChunk
}

// completion is what arrives on the scheduler's single completion
// channel from a worker's do_task reply (spec §4.3 step 2). Inline
// meta-task execution and cache-hit short-circuits build one directly
// and pass it to finishTask without a channel round-trip ("Meta
// tasks").
type completion struct {
	Thunk *thunk.Thunk
	Err   *errors.Error
	Value values.T
	Chunk chunk.AbstractChunk
}

// state is the scheduler's working state for a single Run (spec
// §4.3's dependents/waiting/waiting_data/ready/running/cache/finished).
type state struct {
	dependents  map[interface{}]map[*thunk.Thunk]bool
	waiting     map[*thunk.Thunk]map[*thunk.Thunk]bool
	waitingData map[interface{}]map[*thunk.Thunk]bool
	order       map[*thunk.Thunk]int

	ready         []*thunk.Thunk
	running       map[*thunk.Thunk]affinity.Worker
	cache         map[*thunk.Thunk]result
	finished      *thunk.Thunk
	immediateNext *thunk.Thunk
}

// removeReadyAt is the sole chokepoint for removing a Thunk from
// ready by index: it also clears immediateNext when the removed Thunk
// is the one it names, so that a thunk taken by the cache-hit
// short-circuit, a meta pre-pass, or an affinity match never leaves a
// dangling immediateNext for a later idle worker in the same sweep to
// re-dispatch (spec §9(c): a fired Thunk must not be fired twice).
func (st *state) removeReadyAt(i int) *thunk.Thunk {
	t := st.ready[i]
	st.ready = append(st.ready[:i], st.ready[i+1:]...)
	if st.immediateNext == t {
		st.immediateNext = nil
	}
	return t
}

// resolveInput returns the value to pass in place of in when building
// a task's Data: a finished Thunk-input resolves to its cached result,
// and everything else (a Chunk or a plain datum) passes through
// unchanged.
func (st *state) resolveInput(in thunk.Input) thunk.Input {
	t, ok := in.(*thunk.Thunk)
	if !ok {
		return in
	}
	res, ok := st.cache[t]
	if !ok {
		// Should not happen: a Thunk only becomes an input to a
		// ready/running Thunk once all of its own Thunk-inputs are
		// finished, but defensive fallback avoids a nil panic.
		return in
	}
	if res.HasValue {
		return res.Value
	}
	return res.Chunk
}

// Run dispatches root's Thunk DAG to completion and returns its
// result: either a raw value (if root.GetResult) or a chunk handle
// (spec §4.3 step 5, "Return cache[d]").
func (s *Scheduler) Run(ctx context.Context, root *thunk.Thunk) (values.T, chunk.AbstractChunk, error) {
	if err := thunk.Validate(root); err != nil {
		return nil, nil, err
	}
	st := s.initState(root)

	completionc := make(chan completion)
	s.pump(ctx, st, completionc)
	for !st.done() {
		select {
		case <-ctx.Done():
			return nil, nil, errors.E("sched.Run", errors.Canceled, ctx.Err())
		case c := <-completionc:
			if c.Err != nil {
				return nil, nil, errors.E("sched.Run", errors.Eval, c.Err)
			}
			s.finishTask(ctx, st, c)
			s.pump(ctx, st, completionc)
		}
	}
	res, ok := st.cache[root]
	if !ok {
		return nil, nil, errors.E("sched.Run", errors.Invalid, errors.New("scheduler finished without a result for the root thunk"))
	}
	return res.Value, res.Chunk, nil
}

func (st *state) done() bool {
	return len(st.waiting) == 0 && len(st.ready) == 0 && len(st.running) == 0
}

// initState computes the dependents map, the total order, and the
// initial waiting/ready partition (spec §4.3 "Initialization").
func (s *Scheduler) initState(root *thunk.Thunk) *state {
	dependents := graph.Dependents(root)
	order := graph.TotalOrder(root)

	st := &state{
		dependents:  dependents,
		waiting:     make(map[*thunk.Thunk]map[*thunk.Thunk]bool),
		waitingData: make(map[interface{}]map[*thunk.Thunk]bool, len(dependents)),
		order:       order,
		running:     make(map[*thunk.Thunk]affinity.Worker),
		cache:       make(map[*thunk.Thunk]result),
	}
	for n, ds := range dependents {
		cp := make(map[*thunk.Thunk]bool, len(ds))
		for d := range ds {
			cp[d] = true
		}
		st.waitingData[n] = cp
	}
	for t := range order {
		ins := t.ThunkInputs()
		if len(ins) == 0 {
			st.ready = append(st.ready, t)
			continue
		}
		w := make(map[*thunk.Thunk]bool, len(ins))
		for _, in := range ins {
			w[in] = true
		}
		st.waiting[t] = w
	}
	return st
}

// pump drains whatever dispatch work is currently possible without
// waiting on a completion: cache-hit short-circuits, inline meta-task
// execution, and assignment of idle workers (spec §4.3 steps 1, 4, and
// the "Cache-hit short-circuit"/"Meta tasks" subsections). It returns
// once no further progress can be made without a completion arriving.
func (s *Scheduler) pump(ctx context.Context, st *state, completionc chan completion) {
	for {
		if i, ok := s.findCacheHit(st); ok {
			t := st.removeReadyAt(i)
			s.shortCircuit(ctx, st, t)
			continue
		}
		if i, ok := findMeta(st.ready); ok {
			t := st.removeReadyAt(i)
			s.runMeta(ctx, st, t)
			continue
		}
		if s.assignIdle(ctx, st, completionc) {
			continue
		}
		return
	}
}

func findMeta(ready []*thunk.Thunk) (int, bool) {
	for i, t := range ready {
		if t.Meta {
			return i, true
		}
	}
	return 0, false
}

// findCacheHit locates a ready Thunk carrying a still-plausible
// cache_ref (spec §4.3 "Cache-hit short-circuit").
func (s *Scheduler) findCacheHit(st *state) (int, bool) {
	for i, t := range st.ready {
		if t.Cache && t.CacheRef != nil {
			return i, true
		}
	}
	return 0, false
}

// shortCircuit asks the owning worker to unrelease t's cache_ref; on
// success the cached result is installed without re-running t. On
// failure the ref is cleared and t is returned to ready for normal
// dispatch.
func (s *Scheduler) shortCircuit(ctx context.Context, st *state, t *thunk.Thunk) {
	owner := s.ownerOf(t.CacheRef)
	hit := owner != nil && owner.Unrelease(ctx, t.CacheRef)
	metrics.RecordCacheOutcome(hit)
	if hit {
		s.finishTask(ctx, st, completion{Thunk: t, Chunk: t.CacheRef})
		return
	}
	t.CacheRef = nil
	st.ready = append(st.ready, t)
}

// runMeta executes a meta Thunk inline on the master, with inputs
// passed unmoved (spec §4.3 "Meta tasks").
func (s *Scheduler) runMeta(ctx context.Context, st *state, t *thunk.Thunk) {
	ins := make([]values.T, len(t.Inputs))
	for i, in := range t.Inputs {
		ins[i] = st.resolveInput(in)
	}
	v, err := t.F(ctx, ins)
	if err != nil {
		s.finishTask(ctx, st, completion{Thunk: t, Err: errors.Recover(errors.E("meta", errors.Eval, err))})
		return
	}
	c := completion{Thunk: t}
	if t.GetResult {
		c.Value = v
	} else if ac, ok := v.(chunk.AbstractChunk); ok {
		c.Chunk = ac
	} else {
		c.Err = errors.Recover(errors.E("meta", errors.Invalid, errors.Errorf("meta thunk %s returned non-chunk %T without get_result", t, v)))
	}
	s.finishTask(ctx, st, c)
}

// assignIdle performs one affinity-aware dispatch sweep over every
// idle worker (spec §4.3 step 4): the first assignment takes the
// immediate_next fast path if set, bypassing affinity entirely;
// subsequent assignments are affinity-aware. A worker for which no
// ready task is eligible is skipped for the remainder of this sweep
// (spec: "drop that worker from the live set for the remainder of
// this cycle"). It reports whether any assignment was made.
func (s *Scheduler) assignIdle(ctx context.Context, st *state, completionc chan completion) bool {
	assigned := false
	for _, w := range s.Workers {
		if len(st.ready) == 0 || len(st.running) >= len(s.Workers) {
			break
		}
		if _, busy := workerBusy(st, w.ID()); busy {
			continue
		}
		var t *thunk.Thunk
		if st.immediateNext != nil {
			t = st.immediateNext
			st.immediateNext = nil
			removeReadyThunk(st, t)
		} else {
			idx, ok := selectForWorker(st.ready, w.ID(), s.liveIDs(), st.order)
			if !ok {
				continue
			}
			t = st.removeReadyAt(idx)
		}
		if _, dup := st.running[t]; dup {
			panic(fmt.Sprintf("sched: thunk %s dispatched while already running", t))
		}
		st.running[t] = w.ID()
		assigned = true
		metrics.RecordDispatch(string(w.ID()))
		s.fire(ctx, st, t, w, completionc)
	}
	return assigned
}

func workerBusy(st *state, id affinity.Worker) (*thunk.Thunk, bool) {
	for t, w := range st.running {
		if w == id {
			return t, true
		}
	}
	return nil, false
}

func removeReadyThunk(st *state, t *thunk.Thunk) {
	for i, r := range st.ready {
		if r == t {
			st.removeReadyAt(i)
			return
		}
	}
}

func (s *Scheduler) liveIDs() []affinity.Worker {
	ids := make([]affinity.Worker, len(s.Workers))
	for i, w := range s.Workers {
		ids[i] = w.ID()
	}
	return ids
}

func (s *Scheduler) ownerOf(c chunk.AbstractChunk) worker.Worker {
	for _, pair := range c.Affinity() {
		if w, ok := s.owners[pair.Worker]; ok {
			return w
		}
	}
	return nil
}

// Owner returns the worker among this Scheduler's set that holds c's
// data, per c's affinity, or nil if none of them claim it. Exported
// for callers that need to resolve a chunk's owner without a Run --
// notably the Master API's Computed finalizer (spec §4.6).
func (s *Scheduler) Owner(c chunk.AbstractChunk) worker.Worker {
	return s.ownerOf(c)
}

// fire dispatches t to w asynchronously, forwarding its reply onto
// completionc -- async_apply (spec §4.5), run as a goroutine exactly
// like the teacher's Scheduler.run.
func (s *Scheduler) fire(ctx context.Context, st *state, t *thunk.Thunk, w worker.Worker, completionc chan completion) {
	data := make([]thunk.Input, len(t.Inputs))
	for i, in := range t.Inputs {
		data[i] = st.resolveInput(in)
	}
	req := worker.TaskRequest{ThunkID: t.ID(), Ident: t.Ident, F: t.F, Data: data, SendResult: t.GetResult, Persist: t.Persist}
	go func() {
		span := metrics.Start(metrics.Compute)
		reply := w.DoTask(ctx, req)
		span.Done()
		if reply.Err != nil {
			completionc <- completion{Thunk: t, Err: reply.Err}
			return
		}
		completionc <- completion{Thunk: t, Value: reply.Value, Chunk: reply.Chunk}
	}()
}

// finishTask applies finish_task (spec §4.3 step 3): it records t's
// result, unlocks dependents whose waiting set has emptied (setting
// immediate_next to the first one unlocked), and frees inputs whose
// waiting_data set has emptied, retaining the cache slot of any input
// that is itself a caching Thunk.
func (s *Scheduler) finishTask(ctx context.Context, st *state, c completion) {
	t := c.Thunk
	st.cache[t] = result{HasValue: t.GetResult, Value: c.Value, Chunk: c.Chunk}
	if t.Cache && c.Chunk != nil {
		t.CacheRef = c.Chunk
	}
	delete(st.running, t)
	st.finished = t

	for d := range st.dependents[t] {
		w, ok := st.waiting[d]
		if !ok {
			continue
		}
		delete(w, t)
		if len(w) == 0 {
			delete(st.waiting, d)
			st.ready = append(st.ready, d)
			if st.immediateNext == nil {
				st.immediateNext = d
			}
		}
	}

	for _, in := range t.Inputs {
		wd, ok := st.waitingData[in]
		if !ok {
			continue
		}
		delete(wd, t)
		if len(wd) == 0 {
			s.maybeFree(ctx, st, in)
		}
	}
}

// maybeFree reclaims the stored chunk result of Thunk-input in once
// nothing still depends on it, unless in is a caching Thunk (spec
// §4.3 step 3: "unless inp is a caching Thunk, in which case the free
// must retain the cache slot"). Non-Thunk inputs (leaf chunks and
// plain values) are not freed here.
func (s *Scheduler) maybeFree(ctx context.Context, st *state, in interface{}) {
	it, ok := in.(*thunk.Thunk)
	if !ok {
		return
	}
	if it.Cache {
		return
	}
	res, ok := st.cache[it]
	if !ok || res.Chunk == nil {
		return
	}
	w := s.ownerOf(res.Chunk)
	if w == nil {
		return
	}
	if err := lifetime.Free(ctx, w, res.Chunk, false, false); err != nil {
		s.Log.Errorf("free %s: %v", it, err)
	}
}

// String renders a short summary of the scheduler's worker set, for
// debugging output.
func (s *Scheduler) String() string {
	return fmt.Sprintf("sched(workers=%d)", len(s.Workers))
}
