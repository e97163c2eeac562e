// Package audit provides the asynchronous audit event pipeline: the canonical
// event model, pluggable sinks, and a buffered dispatcher that decouples sink
// latency from the authentication request path.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling package.
//   - Carry secret material in events (the engine redacts before Emit).
package audit
