// Package worker implements the execution protocol between the
// master (scheduler) and workers (spec §4.5): do_task, async_apply,
// and move. It defines the Worker interface and two backends: Local,
// an in-process worker for tests and single-machine use, and
// a REST client/server pair for real distributed deployments,
// grounded in the teacher's own rest/pool-client RPC transport.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
)

// TaskRequest describes a single do_task invocation (spec §4.5).
type TaskRequest struct {
	ThunkID uint64
	// Ident mirrors the originating Thunk's Ident field. Local workers
	// ignore it and invoke F directly; RESTClient uses it in place of F
	// to look up a function previously registered with RegisterFunc,
	// since a closure cannot be marshaled across the wire.
	Ident string
	F     thunk.Func
	// Data holds the task's inputs, pre-Move: each element is either a
	// chunk.AbstractChunk (to be fetched via Move) or a plain value
	// (moved by identity).
	Data []thunk.Input
	// SendResult, if true, instructs the worker to return the raw
	// computed value instead of wrapping it as a chunk.
	SendResult bool
	// Persist, if true, instructs the worker not to reclaim the
	// produced chunk on its own.
	Persist bool
}

// TaskReply is what a worker returns from do_task: (worker_id,
// thunk_id, result | failure) (spec §4.5, §6).
type TaskReply struct {
	WorkerID affinity.Worker
	ThunkID  uint64
	// Value holds the raw result when the request had SendResult set.
	Value values.T
	// Chunk holds the wrapped result otherwise.
	Chunk chunk.AbstractChunk
	// Err is set on failure: either a CapturedException (the task
	// function panicked or returned an error) or a transport-level
	// failure (spec §7).
	Err *errors.Error
}

// Failed reports whether this reply carries an error.
func (r TaskReply) Failed() bool { return r.Err != nil }

// CapturedException wraps a panic or error raised by a Thunk's
// function while running on a worker, together with its backtrace
// (spec §4.5 step 3, §7 "Computation error").
type CapturedException struct {
	Message   string
	Backtrace string
}

func (c *CapturedException) Error() string { return c.Message }

// Move fetches x onto this worker, if it is an AbstractChunk not
// already resident locally; plain values are returned unchanged
// (spec §4.5 step 1, "_move"). w identifies the worker the move is
// performed on, used only for logging/affinity bookkeeping by
// implementations.
type Mover interface {
	Move(ctx context.Context, w affinity.Worker, x thunk.Input) (values.T, error)
}

// Worker is the scheduler's view of a single worker process: it can
// run a task (DoTask), service a cache-hit short-circuit request
// (Unrelease), and release storage (Free).
type Worker interface {
	Mover

	// ID returns this worker's affinity identity.
	ID() affinity.Worker

	// DoTask runs req synchronously on this worker and returns its
	// reply (spec §4.5). DoTask itself performs the per-datum Move,
	// then invokes req.F. DoTask opens no spans: the scheduler times
	// each whole DoTask call, moves included, in one compute span, and
	// no comm span is recorded for the moves.
	DoTask(ctx context.Context, req TaskRequest) TaskReply

	// Unrelease asks this worker to bump the keep-alive of a
	// previously freed-but-cached chunk (spec §4.3 cache-hit
	// short-circuit). ok is false if the worker no longer holds c.
	Unrelease(ctx context.Context, c chunk.AbstractChunk) (ok bool)

	// Free releases worker-side storage for c. persist! sets force to
	// false, in which case Free on a persisted chunk is a no-op (spec
	// §4.6). If cache is true, storage moves to a keep-alive registry
	// rather than being discarded outright, so a future scheduler run
	// can Unrelease it.
	Free(ctx context.Context, c chunk.AbstractChunk, force, cache bool) error
}

// runTask executes the compute half of do_task against already-moved
// inputs, capturing panics as CapturedExceptions (spec §4.5 step 3).
// It is shared by every Worker implementation so that panic capture
// and result wrapping behave identically everywhere.
func runTask(ctx context.Context, w affinity.Worker, req TaskRequest, fetched []values.T) (reply TaskReply) {
	reply.WorkerID = w
	reply.ThunkID = req.ThunkID
	defer func() {
		if r := recover(); r != nil {
			reply.Err = errors.Recover(errors.E("do_task", errors.Eval, &CapturedException{
				Message:   fmt.Sprintf("%v", r),
				Backtrace: string(debug.Stack()),
			}))
		}
	}()
	v, err := req.F(ctx, fetched)
	if err != nil {
		reply.Err = errors.Recover(errors.E("do_task", errors.Eval, err))
		return reply
	}
	if req.SendResult {
		reply.Value = v
		return reply
	}
	reply.Chunk = chunk.NewChunk(w, v, estimateSize(v))
	if ch, ok := reply.Chunk.(*chunk.Chunk); ok {
		ch.Persisted = req.Persist
	}
	return reply
}

func estimateSize(v values.T) int64 {
	switch x := v.(type) {
	case []byte:
		return int64(len(x))
	case string:
		return int64(len(x))
	default:
		return -1
	}
}
