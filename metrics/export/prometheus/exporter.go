package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders authcore counters and latency histograms in the
// Prometheus text exposition format.
type Exporter struct {
	source metricsSource
	labels string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithConstLabels attaches fixed labels (for example service or region) to
// every exported sample.
func WithConstLabels(labels map[string]string) Option {
	return func(e *Exporter) {
		e.labels = formatLabels(labels)
	}
}

// New creates an exporter that reads from engine.
func New(engine *authcore.Engine, opts ...Option) *Exporter {
	return NewFromSource(engine, opts...)
}

// NewFromSource creates an exporter over any snapshot source.
func NewFromSource(source metricsSource, opts ...Option) *Exporter {
	e := &Exporter{source: source}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handler serves the current snapshot. Mount it on the scrape path.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled and no
// audit events were dropped.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := writer{labels: e.labels}
	w.b.Grow(8192)
	for _, def := range internaldefs.CounterDefs {
		w.counter(def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		w.histogram(def.Name, def.Help, buckets)
	}
	w.counter("authcore_audit_dropped_total", "Audit events dropped by a full dispatcher buffer.", dropped)
	return w.b.String()
}

type writer struct {
	b      strings.Builder
	labels string
}

func (w *writer) header(name, help, kind string) {
	w.b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.b.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *writer) sample(name, extra string, value uint64) {
	w.b.WriteString(name)
	switch {
	case w.labels != "" && extra != "":
		w.b.WriteString("{" + w.labels + "," + extra + "}")
	case w.labels != "":
		w.b.WriteString("{" + w.labels + "}")
	case extra != "":
		w.b.WriteString("{" + extra + "}")
	}
	w.b.WriteByte(' ')
	w.b.WriteString(strconv.FormatUint(value, 10))
	w.b.WriteByte('\n')
}

func (w *writer) counter(name, help string, value uint64) {
	w.header(name, help, "counter")
	w.sample(name, "", value)
}

func (w *writer) histogram(name, help string, cumulative [8]uint64) {
	w.header(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		w.sample(name+"_bucket", `le="`+le+`"`, cumulative[i])
	}
	w.sample(name+"_count", "", cumulative[len(cumulative)-1])
	// Snapshots carry bucket counts only.
	w.sample(name+"_sum", "", 0)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+`="`+escapeLabel(labels[k])+`"`)
	}
	return strings.Join(parts, ",")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, `"`, `\"`)
}
