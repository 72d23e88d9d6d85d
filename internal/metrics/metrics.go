package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DescriptorBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystack_descriptor_builds_total",
		Help: "Descriptor builds by result (ok, rejected).",
	}, []string{"result"})

	GuardFindings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystack_guard_findings_total",
		Help: "Policy guard findings by severity and code.",
	}, []string{"severity", "code"})

	Applies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystack_applies_total",
		Help: "Engine applies by engine and result code.",
	}, []string{"engine", "result"})

	ApplyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keystack_apply_latency_seconds",
		Help:    "Latency of engine applies.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"engine"})

	ExportLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystack_export_lookups_total",
		Help: "Export lookups by source (cache, registry, miss).",
	}, []string{"source"})
)

// Register registers the collectors on reg (the default registerer when nil).
// Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{DescriptorBuilds, GuardFindings, Applies, ApplyLatency, ExportLookups} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
