// Package chunk implements AbstractChunk and its variants (spec §3):
// a handle to data living on some worker. Chunk is a single-worker
// materialized datum; View is a slice of another chunk; Cat is a
// structured N-dimensional aggregate of chunks that may itself be
// deferred if any of its cells holds an unresolved Thunk.
//
// This package intentionally does not depend on package thunk (to
// avoid an import cycle, since a Thunk's inputs may themselves be
// AbstractChunks): a Cat's deferred cells are held as `interface{}`
// and recognized structurally via the Deferred interface, which
// *thunk.Thunk implements.
package chunk

import (
	"crypto"
	"fmt"

	"github.com/grailbio/base/digest"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/values"
)

// digester is the Digester used throughout this package. We use a
// SHA256 digest.
var digester = digest.Digester(crypto.SHA256)

// AbstractChunk is a handle to data living on some worker (spec §3).
type AbstractChunk interface {
	fmt.Stringer

	// Digest identifies this chunk's content, for cache keys and
	// logging.
	Digest() digest.Digest
	// Affinity reports the worker(s) that hold this chunk's data.
	Affinity() affinity.Set
	// Size reports the chunk's materialized size in bytes, or -1 if
	// unknown.
	Size() int64
}

// Deferred is implemented by values that may appear in a Cat's grid
// but are not yet resolved to an AbstractChunk -- in practice, only
// *thunk.Thunk. A Cat containing any Deferred cell is itself deferred
// (spec §3).
type Deferred interface {
	// ID returns a stable identifier for the deferred computation, used
	// for debugging output and in a deferred Cat's digest.
	ID() uint64
}

// Chunk is a single materialized datum living on one worker.
type Chunk struct {
	id     digest.Digest
	Worker affinity.Worker
	Value  values.T
	Bytes  int64
	// Persisted marks a chunk as pinned (spec §4.6 persist!): frees
	// with force=false become no-ops.
	Persisted bool
}

// NewChunk constructs a Chunk with a fresh content-derived digest.
func NewChunk(w affinity.Worker, v values.T, size int64) *Chunk {
	return &Chunk{id: digester.FromString(fmt.Sprintf("%s:%v", w, v)), Worker: w, Value: v, Bytes: size}
}

func (c *Chunk) Digest() digest.Digest   { return c.id }
func (c *Chunk) Affinity() affinity.Set  { return affinity.Of(c.Worker) }
func (c *Chunk) Size() int64             { return c.Bytes }
func (c *Chunk) String() string          { return fmt.Sprintf("chunk<%s>(%s, %dB)", c.id.Short(), c.Worker, c.Bytes) }

// View is a slice of another chunk: [Offset, Offset+Length). Views
// inherit their parent's affinity, since the underlying bytes have
// not moved.
type View struct {
	Parent         AbstractChunk
	Offset, Length int64
}

func (v *View) Digest() digest.Digest {
	w := digester.NewWriter()
	_, _ = digest.WriteDigest(w, v.Parent.Digest())
	fmt.Fprintf(w, "[%d:%d]", v.Offset, v.Offset+v.Length)
	return w.Digest()
}
func (v *View) Affinity() affinity.Set { return v.Parent.Affinity() }
func (v *View) Size() int64            { return v.Length }
func (v *View) String() string {
	return fmt.Sprintf("view<%s>[%d:%d]", v.Parent.Digest().Short(), v.Offset, v.Offset+v.Length)
}

// Cat is a structured N-dimensional aggregate of chunks, arranged in
// a grid with a declared chunk type, domain, and per-axis chunk
// sizes (spec §3). Grid is stored in row-major order; each entry is
// either an AbstractChunk (resolved) or a value implementing
// Deferred (unresolved).
type Cat struct {
	ChunkType  string
	Domain     []int64
	ChunkSizes [][]int64
	Grid       []interface{}
}

// NewCat constructs a Cat from a grid of already-resolved or
// still-deferred cells, preserving the supplied layout metadata.
func NewCat(chunkType string, domain []int64, chunkSizes [][]int64, grid []interface{}) *Cat {
	return &Cat{ChunkType: chunkType, Domain: append([]int64{}, domain...), ChunkSizes: chunkSizes, Grid: grid}
}

// Deferred reports whether any cell of this Cat's grid is a Deferred
// value (a Thunk), making the Cat itself deferred (spec §3 invariant).
// Only the Cat's own cells are checked; a cell that is itself a Cat
// holding Thunks does not make this Cat deferred.
func (c *Cat) Deferred() bool {
	for _, cell := range c.Grid {
		if _, ok := cell.(Deferred); ok {
			return true
		}
	}
	return false
}

// Resolved returns a copy of this Cat with grid cell i replaced by
// the resolved chunk v, used by stage.fuseCat's meta thunk to fold
// each settled cell back into a fully-resolved Cat, preserving the
// original domain and chunk layout (spec §4.1).
func (c *Cat) Resolved(i int, v AbstractChunk) *Cat {
	out := *c
	out.Grid = append([]interface{}{}, c.Grid...)
	out.Grid[i] = v
	return &out
}

func (c *Cat) Digest() digest.Digest {
	w := digester.NewWriter()
	fmt.Fprintf(w, "cat:%s:%v", c.ChunkType, c.Domain)
	for _, cell := range c.Grid {
		if ac, ok := cell.(AbstractChunk); ok {
			_, _ = digest.WriteDigest(w, ac.Digest())
		} else if d, ok := cell.(Deferred); ok {
			fmt.Fprintf(w, "deferred:%d", d.ID())
		}
	}
	return w.Digest()
}

// Affinity is the merged affinity of every resolved cell in the grid.
func (c *Cat) Affinity() affinity.Set {
	var sets []affinity.Set
	for _, cell := range c.Grid {
		if ac, ok := cell.(AbstractChunk); ok {
			sets = append(sets, ac.Affinity())
		}
	}
	return affinity.Merge(sets...)
}

func (c *Cat) Size() int64 {
	var n int64
	for _, cell := range c.Grid {
		if ac, ok := cell.(AbstractChunk); ok {
			n += ac.Size()
		}
	}
	return n
}

func (c *Cat) String() string {
	return fmt.Sprintf("cat<%s>(domain=%v, cells=%d, deferred=%v)", c.ChunkType, c.Domain, len(c.Grid), c.Deferred())
}
