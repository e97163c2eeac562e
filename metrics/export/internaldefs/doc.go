// Package internaldefs holds the metric name and bucket definitions shared
// by the exporter implementations.
//
// Both exporters read from this single list so Prometheus and OTel always
// expose identical metric names and boundaries.
package internaldefs
