package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterInstrument struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

type histogramInstrument struct {
	id      authcore.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter publishes authcore snapshots through OpenTelemetry observable
// instruments. It holds one callback registration; Close releases it.
type Exporter struct {
	source       metricsSource
	attrs        metric.MeasurementOption
	registration metric.Registration
	counters     []counterInstrument
	histograms   []histogramInstrument
	auditDropped metric.Int64ObservableCounter
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAttributes adds fixed attributes to every observation.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(e *Exporter) {
		e.attrs = metric.WithAttributes(attrs...)
	}
}

// New registers instruments on meter that read engine's metrics.
func New(meter metric.Meter, engine *authcore.Engine, opts ...Option) (*Exporter, error) {
	return NewFromSource(meter, engine, opts...)
}

// NewFromSource registers instruments over any snapshot source.
func NewFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:     source,
		attrs:      metric.WithAttributes(),
		counters:   make([]counterInstrument, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramInstrument, 0, len(internaldefs.HistogramDefs)),
	}
	for _, opt := range opts {
		opt(e)
	}

	observables, err := e.instruments(meter)
	if err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) instruments(meter metric.Meter) ([]metric.Observable, error) {
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := histogramInstrument{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create count gauge %s_count: %w", def.Name, err)
		}
		h.count = count
		observables = append(observables, count)
		e.histograms = append(e.histograms, h)
	}

	dropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Audit events dropped by a full dispatcher buffer."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	return append(observables, dropped), nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]), e.attrs)
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i := range cumulative {
			o.ObserveInt64(h.buckets[i], int64(cumulative[i]), e.attrs)
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), e.attrs)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), e.attrs)
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
