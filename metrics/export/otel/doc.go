// Package otel provides OpenTelemetry metric bindings for the engine's
// counters and histograms.
//
// [NewOTelExporter] registers Int64ObservableCounter instruments for each
// engine counter and Int64ObservableGauge instruments per histogram
// bucket. A single callback reads one metrics snapshot per collection
// cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
