// Package trace records what a kernel does while it runs.
//
// Kernels emit point events for boot and halt, thread lifecycle, dispatch
// decisions and queue donation. Scenario runs wrap each kernel in a span.
//
// # Usage
//
//	weft run --trace=- --trace-level=detail scenario.toml
//
// # Tracers
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write to a file or stderr
//   - RingTracer: circular buffer, dumped with WriteDump after a run
//   - MultiTracer: fan-out to several tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only crash dumps
//   - LevelPhase: kernel and thread lifecycle
//   - LevelDetail: plus ready, block and switch decisions
//   - LevelDebug: plus queue membership and priority donation
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	err := kernel.Run(ctx, main) // kernel picks the tracer up from ctx
package trace
