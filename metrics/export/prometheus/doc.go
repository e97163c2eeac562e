// Package prometheus renders engine metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts an [authcore.Engine] and exposes an
// [net/http.Handler] that serves all engine counters and the validate
// latency histogram. Counter names are prefixed authcore_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the
//     Handler.
//   - Mutate engine state.
package prometheus
