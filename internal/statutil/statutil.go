// Package statutil reads back the current value of internal prometheus
// counters/gauges. The string store keeps its stats as unregistered
// prometheus.Counter instances and never exposes them over HTTP; the other
// components keep plain integer counters.
// Reading a value back for a Stats() snapshot requires the same
// Write(*dto.Metric) trick prometheus's own testutil package uses
// internally.
package statutil

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterValue returns the current value of a prometheus.Counter.
func CounterValue(c prometheus.Counter) uint64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return uint64(m.GetCounter().GetValue())
}

// GaugeValue returns the current value of a prometheus.Gauge.
func GaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}
