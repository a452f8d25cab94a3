// Package core defines the shared data model of the delegation engine: the
// task descriptor submitted by callers, the routing and delegation decision
// types, the closed Event union streamed to clients, the per-run Execution
// record and the single-writer EventSink through which all output for one
// execution is published.
//
// Types in this package carry no orchestration behavior of their own; the
// router, delegate, graph and stream packages operate on them.
package core
