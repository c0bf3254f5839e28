// Package observe provides observability primitives for the dispatch
// middleware.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. The dispatcher, queue, cache, and rate limiter wire
// the observer's logger, meter, and tracer into their own code paths.
package observe
