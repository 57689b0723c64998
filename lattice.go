package lattice

import (
	"context"
	"runtime"
	"time"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/compute"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/lifetime"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/metrics"
	"github.com/latticerun/lattice/runctx"
	"github.com/latticerun/lattice/sched"
	"github.com/latticerun/lattice/stage"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
	"github.com/latticerun/lattice/worker"
)

// Computed is the result of a Master API compute call (spec §6): a
// wrapped chunk (or raw value), and the worker set the computation ran
// against, needed to service a later Free. On destruction, a Computed
// holding a chunk schedules a forced free of that chunk (spec §3
// "Lifetimes"): see finalizeComputed.
type Computed struct {
	Value values.T
	Chunk chunk.AbstractChunk

	ctx   *runctx.Context
	sched *sched.Scheduler
}

// reaper runs every Computed finalizer's forced free, so that the
// finalizer goroutine -- which must never block (spec §4.6 "Finalizer
// yielding") -- only ever enqueues work instead of performing it.
var reaper = lifetime.NewReaper(0)

// newComputed wraps value/ch as a Computed and, if ch is set, attaches
// a finalizer that frees ch once the Computed becomes unreachable
// (spec §3 "Computed wraps a chunk and, on destruction, schedules a
// forced free of that chunk").
func newComputed(rc *runctx.Context, s *sched.Scheduler, value values.T, ch chunk.AbstractChunk) *Computed {
	c := &Computed{Value: value, Chunk: ch, ctx: rc, sched: s}
	if ch != nil {
		runtime.SetFinalizer(c, finalizeComputed)
	}
	return c
}

// finalizeComputed is the runtime.SetFinalizer callback for a
// Computed: it must not block, so the actual free is hand off to
// reaper (spec §3 "The free must be deferred off the destructor
// thread because destruction can occur during a context where
// blocking/suspension is unsafe").
func finalizeComputed(c *Computed) {
	if c.sched == nil {
		return
	}
	w := c.sched.Owner(c.Chunk)
	if w == nil {
		return
	}
	ch := c.Chunk
	reaper.Submit(func() {
		if err := lifetime.Free(context.Background(), w, ch, true, false); err != nil {
			log.Std.Errorf("finalize %s: %v", ch, err)
		}
	})
}

// defaultContext is used by the one-argument overloads of Compute and
// Gather; callers that need specific workers or logging should build
// their own runctx.Context and Scheduler and call Compute directly.
var defaultContext = runctx.New()

// Compute stages c under ctx, runs the resulting Thunk graph to
// completion on a Scheduler built from the workers argument (each of
// which must be among rc.Workers when rc.Workers is non-empty), and
// wraps the result (spec §6 "compute(ctx, c) → Computed").
func Compute(ctx context.Context, rc *runctx.Context, c compute.Computation, workers ...worker.Worker) (*Computed, error) {
	span := metrics.Start(metrics.SchedulerInit)
	staged, err := stage.CachedStage(rc, c)
	if err != nil {
		span.Done()
		return nil, errors.E("Compute", err)
	}
	t, err := stage.Thunkize(rc, staged)
	span.Done()
	if err != nil {
		return nil, errors.E("Compute", err)
	}

	schedSpan := metrics.Start(metrics.Scheduler)
	defer schedSpan.Done()

	// rc.Workers, if populated, is the Context's declared dispatch set;
	// reject a workers argument naming anyone outside it rather than
	// silently dispatching against a set the Context never declared.
	if len(rc.Workers) > 0 {
		for _, w := range workers {
			if !rc.HasWorker(w.ID()) {
				return nil, errors.E("Compute", errors.Invalid, errors.Errorf("worker %s is not among this Context's declared Workers", w.ID()))
			}
		}
	}

	s := sched.New(workers...)
	switch v := t.(type) {
	case chunk.AbstractChunk:
		return newComputed(rc, s, nil, v), nil
	case *thunk.Thunk:
		value, ch, err := s.Run(ctx, v)
		if err != nil {
			return nil, errors.E("Compute", err)
		}
		// A get_result root that yields a chunk handle (such as the
		// resolved Cat of a fused meta thunk) is returned as the
		// Computed's Chunk rather than as a raw value.
		if ac, ok := value.(chunk.AbstractChunk); ok && ch == nil {
			value, ch = nil, ac
		}
		return newComputed(rc, s, value, ch), nil
	default:
		return nil, errors.E("Compute", errors.Invalid, errors.Errorf("unexpected staged type %T", t))
	}
}

// ComputeDefault computes c under the package-level default Context
// and a fresh single in-process worker (spec §6 "compute(c) — same,
// with a default Context").
func ComputeDefault(ctx context.Context, c compute.Computation) (*Computed, error) {
	return Compute(ctx, defaultContext, c, worker.NewLocal("local", 0))
}

// Gather computes c and materializes its result into the caller's
// address space via Computed.Gather (spec §6 "gather(ctx, c)").
func Gather(ctx context.Context, rc *runctx.Context, c compute.Computation, workers ...worker.Worker) (values.T, error) {
	computed, err := Compute(ctx, rc, c, workers...)
	if err != nil {
		return nil, err
	}
	return computed.Gather(ctx)
}

// GatherDefault is Gather under the default Context (spec §6
// "gather(c)").
func GatherDefault(ctx context.Context, c compute.Computation) (values.T, error) {
	computed, err := ComputeDefault(ctx, c)
	if err != nil {
		return nil, err
	}
	return computed.Gather(ctx)
}

// Gather materializes this Computed's result to the caller's address
// space. If the result is already a raw value (GetResult was set
// somewhere along the stage chain), it is returned directly.
func (c *Computed) Gather(ctx context.Context) (values.T, error) {
	span := metrics.Start(metrics.Comm)
	defer span.Done()
	if c.Chunk == nil {
		return c.Value, nil
	}
	ch, ok := c.Chunk.(*chunk.Chunk)
	if !ok {
		return nil, errors.E("Gather", errors.Invalid, errors.Errorf("cannot gather chunk of type %T", c.Chunk))
	}
	return ch.Value, nil
}

// Cached marks c as persist-after-compute (spec §6 "cached(c) →
// Computation").
func Cached(c compute.Computation) compute.Computation { return compute.NewCached(c) }

// Free releases the storage backing computed on worker w, which the
// caller names (spec §6 "free!(computed, force, cache)"). A Computed
// holding only a raw value has nothing to free.
func Free(ctx context.Context, w worker.Worker, computed *Computed, force, cache bool) error {
	if computed.Chunk == nil {
		return nil
	}
	return lifetime.Free(ctx, w, computed.Chunk, force, cache)
}

// DebugCompute computes c, additionally timing the call and, if
// profile or rc.Profile is set, logging the call's total elapsed time
// to rc.Log at DebugLevel (spec §6 "debug_compute(ctx, args…;
// profile=false)").
func DebugCompute(ctx context.Context, rc *runctx.Context, c compute.Computation, profile bool, workers ...worker.Worker) (*Computed, error) {
	start := time.Now()
	computed, err := Compute(ctx, rc, c, workers...)
	elapsed := time.Since(start)
	if profile || rc.Profile {
		if err != nil {
			rc.Log.Debugf("debug_compute: failed after %s: %v", elapsed, err)
		} else {
			rc.Log.Debugf("debug_compute: finished in %s", elapsed)
		}
	}
	return computed, err
}
