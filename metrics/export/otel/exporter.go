package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/sessionkit"
	"github.com/MrEthical07/sessionkit/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("otel: nil meter")
	ErrNilSource = errors.New("otel: nil metrics source")
)

type counterInstrument struct {
	id         sessionkit.MetricID
	instrument metric.Int64ObservableCounter
}

type histogramInstrument struct {
	id      sessionkit.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	sum     metric.Float64ObservableGauge
}

// Exporter observes a Manager on every collection cycle of the supplied Meter.
// Lifecycle gauges carry the state and mode as attributes; histogram buckets
// carry their upper bound as the le attribute.
type Exporter struct {
	source       internaldefs.Source
	registration metric.Registration

	state        metric.Int64ObservableGauge
	mode         metric.Int64ObservableGauge
	age          metric.Float64ObservableGauge
	pending      metric.Int64ObservableGauge
	pendingUp    metric.Int64ObservableGauge
	auditBacklog metric.Int64ObservableGauge
	auditTotals  map[string]metric.Int64ObservableCounter

	counters   []counterInstrument
	histograms []histogramInstrument
}

// New registers instruments for m on meter.
func New(meter metric.Meter, m *sessionkit.Manager) (*Exporter, error) {
	if m == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, m)
}

// NewFromSource registers instruments for any source.
func NewFromSource(meter metric.Meter, source internaldefs.Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	in := &instruments{meter: meter}
	e := &Exporter{
		source:       source,
		state:        in.gauge(internaldefs.SessionStateName, internaldefs.SessionStateHelp),
		mode:         in.gauge(internaldefs.SessionModeName, internaldefs.SessionModeHelp),
		age:          in.floatGauge(internaldefs.SessionAgeName, internaldefs.SessionAgeHelp),
		pending:      in.gauge(internaldefs.PendingName, internaldefs.PendingHelp),
		pendingUp:    in.gauge(internaldefs.PendingUpName, internaldefs.PendingUpHelp),
		auditBacklog: in.gauge(internaldefs.AuditBacklogName, internaldefs.AuditBacklogHelp),
		auditTotals: map[string]metric.Int64ObservableCounter{
			internaldefs.AuditDeliveredName: in.counter(internaldefs.AuditDeliveredName, internaldefs.AuditDeliveredHelp),
			internaldefs.AuditDroppedName:   in.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp),
			internaldefs.AuditPanicsName:    in.counter(internaldefs.AuditPanicsName, internaldefs.AuditPanicsHelp),
		},
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterInstrument{id: def.ID, instrument: in.counter(def.Name, def.Help)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramInstrument{
			id:      def.ID,
			buckets: in.gauge(def.Name+"_bucket", def.Help+" Cumulative count per upper bound."),
			count:   in.gauge(def.Name+"_count", def.Help+" Sample count."),
			sum:     in.floatGauge(def.Name+"_sum", def.Help+" Sum of samples."),
		})
	}
	if in.err != nil {
		return nil, in.err
	}

	registration, err := meter.RegisterCallback(e.observe, in.list...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(ctx context.Context, o metric.Observer) error {
	lc := e.source.Lifecycle(ctx)
	for _, st := range internaldefs.States {
		o.ObserveInt64(e.state, internaldefs.OneHot(lc.State == st), withLabel(internaldefs.StateLabel, st.String()))
	}
	for _, mode := range internaldefs.Modes {
		o.ObserveInt64(e.mode, internaldefs.OneHot(lc.Mode == mode), withLabel(internaldefs.ModeLabel, mode.String()))
	}
	o.ObserveFloat64(e.age, lc.SessionAge.Seconds())
	o.ObserveInt64(e.pendingUp, internaldefs.OneHot(lc.PendingErr == nil))
	if lc.PendingErr == nil {
		o.ObserveInt64(e.pending, int64(lc.PendingConfirmations))
	}
	if lc.Audit.Enabled {
		o.ObserveInt64(e.auditBacklog, int64(lc.Audit.Backlog))
		o.ObserveInt64(e.auditTotals[internaldefs.AuditDeliveredName], int64(lc.Audit.Delivered))
		o.ObserveInt64(e.auditTotals[internaldefs.AuditDroppedName], int64(lc.Audit.Dropped))
		o.ObserveInt64(e.auditTotals[internaldefs.AuditPanicsName], int64(lc.Audit.SinkPanics))
	}

	snap := e.source.MetricsSnapshot()
	if len(snap.Counters) > 0 {
		for _, c := range e.counters {
			o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]))
		}
	}
	for _, h := range e.histograms {
		raw, ok := snap.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.Cumulative(raw)
		for i, le := range internaldefs.HistogramBounds {
			o.ObserveInt64(h.buckets, int64(cumulative[i]), withLabel(internaldefs.HistogramLabel, le))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(h.sum, snap.Sums[h.id].Seconds())
	}
	return nil
}

// Close unregisters the callback. Instruments stay with the Meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func withLabel(key, value string) metric.ObserveOption {
	return metric.WithAttributes(attribute.String(key, value))
}

// instruments creates observables on meter and remembers the first error.
type instruments struct {
	meter metric.Meter
	list  []metric.Observable
	err   error
}

func (in *instruments) gauge(name, help string) metric.Int64ObservableGauge {
	if in.err != nil {
		return nil
	}
	g, err := in.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		in.err = fmt.Errorf("otel: gauge %s: %w", name, err)
		return nil
	}
	in.list = append(in.list, g)
	return g
}

func (in *instruments) floatGauge(name, help string) metric.Float64ObservableGauge {
	if in.err != nil {
		return nil
	}
	g, err := in.meter.Float64ObservableGauge(name, metric.WithDescription(help), metric.WithUnit("s"))
	if err != nil {
		in.err = fmt.Errorf("otel: gauge %s: %w", name, err)
		return nil
	}
	in.list = append(in.list, g)
	return g
}

func (in *instruments) counter(name, help string) metric.Int64ObservableCounter {
	if in.err != nil {
		return nil
	}
	c, err := in.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		in.err = fmt.Errorf("otel: counter %s: %w", name, err)
		return nil
	}
	in.list = append(in.list, c)
	return c
}
