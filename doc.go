// Package lattice implements the core data structures and runtime for
// a distributed dataflow execution engine.
//
// Computations describe deferred results: Leaf, Tuple, Cached, and
// Computed (package compute). The stager (package stage) turns a
// Computation into a Thunk graph (package thunk), memoized per
// Context (package runctx) so that equal sub-expressions share nodes.
// A Scheduler (package sched) dispatches the resulting DAG across a
// fixed set of Workers (package worker), tracking dependents and
// reference counts so that intermediate data is reclaimed as soon as
// its last consumer has fired (package lifetime).
//
// The Master API in this package -- Compute, Gather, Cached, Free,
// and DebugCompute -- ties these pieces together for callers who do
// not need to drive the stager or scheduler directly.
package lattice
