// Package metrics tracks indexing and cache performance with prometheus
// client types, in the spirit of kraklabs-cie's ingestion metrics. The
// server has no inbound network listener (spec's out-of-scope transport
// is stdio only), so these are not scraped over HTTP; Dump renders them
// as text for the log on shutdown.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the server's prometheus collectors.
type Recorder struct {
	registry *prometheus.Registry

	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	FetchErrors  prometheus.Counter
	IndexSeconds prometheus.Histogram
	Diagnostics  *prometheus.CounterVec
}

// New creates and registers a fresh set of collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitlab_ci_ls_remote_cache_hits_total",
			Help: "Remote snapshot cache lookups served without a fetch.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitlab_ci_ls_remote_cache_misses_total",
			Help: "Remote snapshot cache lookups that required a fetch.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitlab_ci_ls_remote_fetch_errors_total",
			Help: "Remote snapshot fetches that failed.",
		}),
		IndexSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gitlab_ci_ls_workspace_index_seconds",
			Help:    "Time spent (re)building a workspace's symbol table.",
			Buckets: prometheus.DefBuckets,
		}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlab_ci_ls_diagnostics_total",
			Help: "Diagnostics emitted, by code.",
		}, []string{"code"}),
	}
	reg.MustRegister(r.CacheHits, r.CacheMisses, r.FetchErrors, r.IndexSeconds, r.Diagnostics)
	return r
}

// Dump renders the current metric values as a compact text block suitable
// for a final log line on shutdown.
func (r *Recorder) Dump() string {
	var sb strings.Builder
	fams, err := r.registry.Gather()
	if err != nil {
		return "metrics unavailable: " + err.Error()
	}
	for _, f := range fams {
		for _, m := range f.Metric {
			sb.WriteString(f.GetName())
			if len(m.GetLabel()) > 0 {
				sb.WriteString("{")
				for i, l := range m.GetLabel() {
					if i > 0 {
						sb.WriteString(",")
					}
					sb.WriteString(l.GetName() + "=" + l.GetValue())
				}
				sb.WriteString("}")
			}
			sb.WriteString("=")
			switch {
			case m.Counter != nil:
				sb.WriteString(strconv.FormatFloat(m.Counter.GetValue(), 'f', -1, 64))
			case m.Histogram != nil:
				sb.WriteString(strconv.FormatFloat(m.Histogram.GetSampleSum(), 'f', -1, 64))
			}
			sb.WriteString(" ")
		}
	}
	return sb.String()
}
