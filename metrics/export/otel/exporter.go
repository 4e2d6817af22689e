package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authsession.MetricsSnapshot
	LogDropped() uint64
	Snapshot() authsession.Session
}

type observedCounter struct {
	id         authsession.MetricID
	instrument metric.Int64ObservableCounter
}

// latencyInstruments carries one in-process latency histogram as
// cumulative bucket counts keyed by the le attribute, plus its total.
type latencyInstruments struct {
	id      authsession.MetricID
	buckets metric.Int64ObservableCounter
	count   metric.Int64ObservableCounter
}

// OTelExporter publishes a Manager's session metrics through observable
// instruments read on every collection cycle: the lifecycle counters, the
// validation and refresh latency buckets, and gauges over the live
// session record.
type OTelExporter struct {
	source       metricsSource
	now          func() time.Time
	registration metric.Registration

	counters   []observedCounter
	latency    []latencyInstruments
	bucketAttr []metric.ObserveOption

	logDropped    metric.Int64ObservableCounter
	authenticated metric.Int64ObservableGauge
	refreshAge    metric.Float64ObservableGauge
}

func NewOTelExporter(meter metric.Meter, manager *authsession.Manager) (*OTelExporter, error) {
	if manager == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, manager)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:     source,
		now:        time.Now,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		latency:    make([]latencyInstruments, 0, len(internaldefs.HistogramDefs)),
		bucketAttr: make([]metric.ObserveOption, len(internaldefs.HistogramBoundLabels)),
	}
	for i, le := range internaldefs.HistogramBoundLabels {
		e.bucketAttr[i] = metric.WithAttributes(attribute.String("le", le))
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+2*len(internaldefs.HistogramDefs)+3)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableCounter(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative samples at or below le seconds."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create latency buckets %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableCounter(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create latency count %s: %w", def.Name, err)
		}
		e.latency = append(e.latency, latencyInstruments{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	var err error
	if e.logDropped, err = meter.Int64ObservableCounter(
		internaldefs.LogDroppedName,
		metric.WithDescription(internaldefs.LogDroppedHelp),
	); err != nil {
		return nil, fmt.Errorf("create log dropped counter: %w", err)
	}
	if e.authenticated, err = meter.Int64ObservableGauge(
		internaldefs.SessionAuthenticatedName,
		metric.WithDescription(internaldefs.SessionAuthenticatedHelp),
	); err != nil {
		return nil, fmt.Errorf("create session gauge: %w", err)
	}
	if e.refreshAge, err = meter.Float64ObservableGauge(
		internaldefs.RefreshAgeName,
		metric.WithDescription(internaldefs.RefreshAgeHelp),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create refresh age gauge: %w", err)
	}
	observables = append(observables, e.logDropped, e.authenticated, e.refreshAge)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}

	// histograms are absent when latency recording is off
	for _, l := range e.latency {
		raw, ok := snapshot.Histograms[l.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attr := range e.bucketAttr {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), attr)
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}

	o.ObserveInt64(e.logDropped, int64(e.source.LogDropped()))

	session := e.source.Snapshot()
	var authenticated int64
	if session.Authenticated {
		authenticated = 1
	}
	o.ObserveInt64(e.authenticated, authenticated)
	if !session.LastRefreshAt.IsZero() {
		o.ObserveFloat64(e.refreshAge, e.now().Sub(session.LastRefreshAt).Seconds())
	}
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
