package otel

import (
	"context"
	"errors"
	"fmt"

	authcore "github.com/zerovault/authcore"
	"github.com/zerovault/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// metricsSource is the slice of the engine surface the exporter reads. It is
// satisfied by *authcore.Engine and by test doubles.
type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// counterBinding ties one snapshot counter to its observable instrument.
type counterBinding struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// histogramBinding expands one snapshot histogram into per-bucket gauges plus
// a sample-count gauge. OTel observable gauges carry the cumulative values.
type histogramBinding struct {
	id      authcore.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine counters and histograms through an OTel
// meter. All instruments are observable: values are pulled from a single
// MetricsSnapshot per collection cycle, so one cycle sees one consistent
// view of the engine.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []counterBinding
	histograms   []histogramBinding
	auditDropped metric.Int64ObservableCounter
	observables  []metric.Observable
}

// NewOTelExporter wires an engine's metrics into the given meter. The
// returned exporter must be closed to unregister its callback.
func NewOTelExporter(meter metric.Meter, engine *authcore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter for any metrics source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	if err := e.bindCounters(meter); err != nil {
		return nil, err
	}
	if err := e.bindHistograms(meter); err != nil {
		return nil, err
	}
	if err := e.bindAuditDropped(meter); err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(e.observe, e.observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) bindCounters(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterBinding{id: def.ID, instrument: ins})
		e.observables = append(e.observables, ins)
	}
	return nil
}

func (e *OTelExporter) bindHistograms(meter metric.Meter) error {
	for _, def := range internaldefs.HistogramDefs {
		binding := histogramBinding{
			id:      def.ID,
			buckets: make([]metric.Int64ObservableGauge, len(internaldefs.HistogramBoundSuffix)),
		}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			binding.buckets[i] = ins
			e.observables = append(e.observables, ins)
		}

		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		binding.count = countIns
		e.observables = append(e.observables, countIns)
		e.histograms = append(e.histograms, binding)
	}
	return nil
}

func (e *OTelExporter) bindAuditDropped(meter metric.Meter) error {
	ins, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = ins
	e.observables = append(e.observables, ins)
	return nil
}

// observe runs once per collection cycle.
func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}

	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, bucket := range h.buckets {
			observer.ObserveInt64(bucket, int64(cumulative[i]))
		}
		// The last cumulative bucket is the +Inf bound, which equals the
		// total sample count.
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}

	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback. Safe on a nil receiver.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
