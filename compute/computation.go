// Package compute defines Computation, an opaque, possibly-deferred
// description of a value (spec §3): the polymorphic input to the
// stager. Variants are a tagged union (Design Note: "Dynamic dispatch
// over Computation variants") rather than a type switch, so that
// external plug-ins can register new Computation variants (spec §6
// stager extension point) without modifying this package.
package compute

import (
	"crypto"
	"io"

	"github.com/grailbio/base/digest"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/runctx"
)

// digester is the Digester used throughout this package. We use a
// SHA256 digest.
var digester = digest.Digester(crypto.SHA256)

// Kind tags a Computation variant for the stager's dispatch table.
type Kind string

const (
	// KindLeaf is a user-defined computation that knows how to stage
	// itself into Thunks/Chunks/Cats.
	KindLeaf Kind = "leaf"
	// KindTuple is an ordered sequence of Computations whose result is
	// the tuple of their results.
	KindTuple Kind = "tuple"
	// KindCached wraps a Computation to mark its result retained after
	// first use.
	KindCached Kind = "cached"
	// KindComputed wraps an already-materialized AbstractChunk.
	KindComputed Kind = "computed"
)

// Computation is an opaque description of a deferred result. It
// carries only enough information for the stager's dispatch table to
// route it to the right staging function and for the per-Context
// memoization cache to key on it; all other behavior is supplied by
// the StageFunc of leaf Computations or by this package's built-in
// variants.
//
// The stager contract requires referential transparency: equal
// Computations (same Key()) must stage to identical Thunk graphs
// within a Context (spec §6).
type Computation interface {
	// Kind identifies which stage function should handle this
	// Computation.
	Kind() Kind
	// Key uniquely identifies this Computation's value for
	// memoization purposes. Two Computations describing the same
	// deferred result must return equal Keys.
	Key() digest.Digest
}

// StageFunc is supplied by leaf Computations: given the ambient
// Context, it produces this Computation's staged form, which must be
// one of *thunk.Thunk, chunk.AbstractChunk, or *chunk.Cat. It is
// typed as interface{} here (rather than importing package thunk) to
// avoid a dependency cycle, since a leaf's staging logic commonly
// needs to construct Thunks whose inputs are themselves staged
// sub-Computations -- that wiring happens in package stage, which
// depends on both compute and thunk.
type StageFunc func(ctx *runctx.Context) (interface{}, error)

// Leaf is a user-defined Computation (spec §3 "Leaf computation").
type Leaf struct {
	// Name is used only for debugging and as digest material when
	// KeyDigest is zero.
	Name string
	// KeyDigest, if set, is used verbatim as this Leaf's memoization
	// key. If zero, a key is derived from Name, which is only safe
	// when Name is unique per logical computation.
	KeyDigest digest.Digest
	// Stage is invoked by the stager to materialize this Leaf.
	Stage StageFunc
}

func (l *Leaf) Kind() Kind { return KindLeaf }
func (l *Leaf) Key() digest.Digest {
	if !l.KeyDigest.IsZero() {
		return l.KeyDigest
	}
	return digester.FromString("leaf:" + l.Name)
}

// Tuple is an ordered sequence of Computations whose result is the
// tuple of their results (spec §3 "Tuple computation").
type Tuple struct {
	Elems []Computation
}

// NewTuple constructs a Tuple Computation over the given elements.
func NewTuple(elems ...Computation) *Tuple { return &Tuple{Elems: elems} }

func (t *Tuple) Kind() Kind { return KindTuple }
func (t *Tuple) Key() digest.Digest {
	w := digester.NewWriter()
	io.WriteString(w, "tuple")
	for _, e := range t.Elems {
		k := e.Key()
		_, _ = digest.WriteDigest(w, k)
	}
	return w.Digest()
}

// Cached wraps an inner Computation, marking its result to be
// retained after first use (spec §3 "Cached", §6 `cached(c)`).
type Cached struct {
	Inner Computation
}

// NewCached marks c as persist-after-compute.
func NewCached(c Computation) *Cached { return &Cached{Inner: c} }

func (c *Cached) Kind() Kind { return KindCached }
func (c *Cached) Key() digest.Digest {
	w := digester.NewWriter()
	io.WriteString(w, "cached")
	_, _ = digest.WriteDigest(w, c.Inner.Key())
	return w.Digest()
}

// Computed wraps an already-materialized AbstractChunk handle,
// participating in the graph as a leaf (spec §3 "Computed").
type Computed struct {
	Chunk chunk.AbstractChunk
}

// NewComputed wraps an already-resolved chunk as a Computation.
func NewComputed(c chunk.AbstractChunk) *Computed { return &Computed{Chunk: c} }

func (c *Computed) Kind() Kind { return KindComputed }
func (c *Computed) Key() digest.Digest { return c.Chunk.Digest() }
