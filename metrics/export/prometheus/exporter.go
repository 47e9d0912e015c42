package prometheus

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/sessionkit"
	"github.com/MrEthical07/sessionkit/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Exporter renders a Manager's lifecycle gauges and counters on every scrape.
// It holds no state of its own.
type Exporter struct {
	source internaldefs.Source
}

// New reads from m.
func New(m *sessionkit.Manager) *Exporter {
	return &Exporter{source: m}
}

// NewFromSource reads from any source, which is how tests feed fixed values.
func NewFromSource(source internaldefs.Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render for the request's context.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := e.Render(r.Context())
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	})
}

// Render returns the exposition text. Lifecycle gauges and audit counters are
// always present; the in-process counters and the restore latency histogram
// only while metrics are enabled.
func (e *Exporter) Render(ctx context.Context) string {
	if e == nil || e.source == nil {
		return ""
	}

	var x exposition
	x.Grow(4096)
	writeLifecycle(&x, e.source.Lifecycle(ctx))

	snap := e.source.MetricsSnapshot()
	if len(snap.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			x.family(def.Name, def.Help, "counter")
			x.sample(def.Name, "", strconv.FormatUint(snap.Counters[def.ID], 10))
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&x, def, internaldefs.Cumulative(raw), snap.Sums[def.ID].Seconds())
	}
	return x.String()
}

func writeLifecycle(x *exposition, lc sessionkit.Lifecycle) {
	x.family(internaldefs.SessionStateName, internaldefs.SessionStateHelp, "gauge")
	for _, st := range internaldefs.States {
		x.sample(internaldefs.SessionStateName, label(internaldefs.StateLabel, st.String()), oneHot(lc.State == st))
	}

	x.family(internaldefs.SessionModeName, internaldefs.SessionModeHelp, "gauge")
	for _, mode := range internaldefs.Modes {
		x.sample(internaldefs.SessionModeName, label(internaldefs.ModeLabel, mode.String()), oneHot(lc.Mode == mode))
	}

	x.family(internaldefs.SessionAgeName, internaldefs.SessionAgeHelp, "gauge")
	x.sample(internaldefs.SessionAgeName, "", formatFloat(lc.SessionAge.Seconds()))

	x.family(internaldefs.PendingUpName, internaldefs.PendingUpHelp, "gauge")
	x.sample(internaldefs.PendingUpName, "", oneHot(lc.PendingErr == nil))
	if lc.PendingErr == nil {
		x.family(internaldefs.PendingName, internaldefs.PendingHelp, "gauge")
		x.sample(internaldefs.PendingName, "", strconv.Itoa(lc.PendingConfirmations))
	}

	if !lc.Audit.Enabled {
		return
	}
	x.family(internaldefs.AuditBacklogName, internaldefs.AuditBacklogHelp, "gauge")
	x.sample(internaldefs.AuditBacklogName, "", strconv.Itoa(lc.Audit.Backlog))
	for _, c := range []struct {
		name, help string
		value      uint64
	}{
		{internaldefs.AuditDeliveredName, internaldefs.AuditDeliveredHelp, lc.Audit.Delivered},
		{internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, lc.Audit.Dropped},
		{internaldefs.AuditPanicsName, internaldefs.AuditPanicsHelp, lc.Audit.SinkPanics},
	} {
		x.family(c.name, c.help, "counter")
		x.sample(c.name, "", strconv.FormatUint(c.value, 10))
	}
}

func writeHistogram(x *exposition, def internaldefs.HistogramDef, cumulative []uint64, sum float64) {
	x.family(def.Name, def.Help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		x.sample(def.Name+"_bucket", label(internaldefs.HistogramLabel, le), strconv.FormatUint(cumulative[i], 10))
	}
	x.sample(def.Name+"_sum", "", formatFloat(sum))
	x.sample(def.Name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

// exposition accumulates text format 0.0.4.
type exposition struct {
	strings.Builder
}

func (x *exposition) family(name, help, kind string) {
	x.WriteString("# HELP " + name + " " + helpEscaper.Replace(help) + "\n")
	x.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (x *exposition) sample(name, labels, value string) {
	x.WriteString(name + labels + " " + value + "\n")
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func label(name, value string) string {
	return "{" + name + `="` + labelEscaper.Replace(value) + `"}`
}

func oneHot(ok bool) string {
	return strconv.FormatInt(internaldefs.OneHot(ok), 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
